package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	if len(s.config.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = s.config.CORS.AllowedOrigins
		corsCfg.AllowCredentials = s.config.CORS.AllowCredentials
	} else {
		corsCfg.AllowAllOrigins = true
	}
	if len(s.config.CORS.AllowedMethods) > 0 {
		corsCfg.AllowMethods = s.config.CORS.AllowedMethods
	}
	if len(s.config.CORS.AllowedHeaders) > 0 {
		corsCfg.AllowHeaders = s.config.CORS.AllowedHeaders
	}
	if s.config.CORS.MaxAge > 0 {
		corsCfg.MaxAge = time.Duration(s.config.CORS.MaxAge) * time.Second
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.healthHandler)

	r.POST("/jobs", s.submitJobHandler)
	r.GET("/jobs", s.listJobsHandler)
	r.GET("/jobs/:id", s.getJobHandler)
	r.DELETE("/jobs/:id", s.cancelJobHandler)

	r.GET("/progress", s.progressHandler)
	r.GET("/statistics", s.statisticsHandler)

	r.POST("/shutdown", s.shutdownHandler)

	return r
}
