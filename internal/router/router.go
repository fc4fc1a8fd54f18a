package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/config"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/handler"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Exam    *handler.ExamHandler
	Room    *handler.RoomHandler
	Grading *handler.GradingHandler
	Student *handler.StudentHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Compress large payloads (content snapshots, rosters) when the client asks.
	router.Use(middleware.Compress())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/register", handlers.Auth.Register)
		auth.POST("/login", handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Professor Group ────────────────────────────────────────────
	professorAPI := router.Group("/api/v1/professor")
	professorAPI.Use(middleware.RequireProfessorJWT(authService))
	{
		// Exam authoring: draft arena plus publish/list/delete.
		professorAPI.GET("/exams", handlers.Exam.List)
		professorAPI.POST("/exams", handlers.Exam.Publish)
		professorAPI.GET("/exams/draft", handlers.Exam.GetDraft)
		professorAPI.PATCH("/exams/draft", handlers.Exam.UpdateDraft)
		professorAPI.DELETE("/exams/draft", handlers.Exam.DiscardDraft)
		professorAPI.POST("/exams/draft/questions", handlers.Exam.AddQuestion)
		professorAPI.PUT("/exams/draft/questions/:question_id", handlers.Exam.UpdateQuestion)
		professorAPI.DELETE("/exams/draft/questions/:question_id", handlers.Exam.RemoveQuestion)
		professorAPI.POST("/exams/draft/generate", handlers.Exam.Generate)
		professorAPI.GET("/exams/:exam_id", handlers.Exam.Get)
		professorAPI.DELETE("/exams/:exam_id", handlers.Exam.Delete)

		// Room lifecycle and roster.
		professorAPI.POST("/rooms", handlers.Room.Create)
		professorAPI.PUT("/rooms/:room_id/config", handlers.Room.Configure)
		professorAPI.POST("/rooms/:room_id/release", handlers.Room.Release)
		professorAPI.POST("/rooms/:room_id/close", handlers.Room.Close)
		professorAPI.POST("/rooms/:room_id/reopen", handlers.Room.Reopen)
		professorAPI.GET("/rooms/:room_id", handlers.Room.Get)
		professorAPI.GET("/rooms/:room_id/participants", handlers.Room.Participants)
		professorAPI.POST("/rooms/:room_id/participants/:student_id/expel", handlers.Room.Expel)
		professorAPI.POST("/rooms/:room_id/participants/:student_id/readmit", handlers.Room.Readmit)

		// Grading.
		professorAPI.GET("/rooms/:room_id/finishers", handlers.Grading.ListFinished)
		professorAPI.GET("/rooms/:room_id/finishers/:student_id", handlers.Grading.Open)
		professorAPI.POST("/rooms/:room_id/finishers/:student_id/score-objective", handlers.Grading.ScoreObjective)
		professorAPI.POST("/rooms/:room_id/finishers/:student_id/score-discursive", handlers.Grading.ScoreDiscursive)
		professorAPI.POST("/rooms/:room_id/finishers/:student_id/score-ai", handlers.Grading.ScoreWithAI)
	}

	// ─── 3. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.GET("/rooms/:room_id", handlers.Room.Get)
		studentAPI.POST("/rooms/:room_id/join", handlers.Room.Join)
		studentAPI.GET("/submissions", handlers.Student.History)
		studentAPI.GET("/submissions/:submission_id", handlers.Student.Submission)
	}

	// ─── 4. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/rooms/:room_id/session", handlers.WS.RoomSession)
	}

	// ─── 5. WebSocket Monitor (Professor WS Auth) ──────────────────────
	wsMonitor := router.Group("/ws/v1")
	wsMonitor.Use(middleware.RequireProfessorWSAuth(authService))
	{
		wsMonitor.GET("/rooms/:room_id/monitor", handlers.WS.RoomMonitor)
	}

	return router
}
