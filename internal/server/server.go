package server

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
)

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	logger        *zap.Logger
	gatherer      prometheus.Gatherer
	jwtManager    *auth.JWTManager
	boardWS       *handler.BoardWSHandler
	boardHandler  *handler.BoardHandler
	healthHandler *handler.HealthHandler
}

// Handlers the handlers served by the app.
type Handlers struct {
	BoardWS *handler.BoardWSHandler
	Board   *handler.BoardHandler
	Health  *handler.HealthHandler
}

// New 새 서버 인스턴스 생성. gatherer may be nil when metrics are disabled.
func New(cfg *config.Config, h Handlers, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whiteboard Sync",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// JWT_SECRET이 없으면 userId 쿼리를 신뢰 (인증은 외부 책임)
	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Logging.Service)
	}

	s := &Server{
		app:           app,
		cfg:           cfg,
		logger:        log.Named("server"),
		gatherer:      gatherer,
		jwtManager:    jwtManager,
		boardWS:       h.BoardWS,
		boardHandler:  h.Board,
		healthHandler: h.Health,
	}
	s.SetupMiddleware()
	s.SetupRoutes()
	return s
}

// App underlying fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
		Next: func(c *fiber.Ctx) bool {
			// probes and scrapes are too chatty to log
			switch c.Path() {
			case "/health/live", "/health/ready", "/metrics":
				return true
			}
			return false
		},
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// Board 라우트 그룹
	boardGroup := s.app.Group("/api/boards", auth.AuthMiddleware(s.jwtManager))
	boardGroup.Get("/:boardId/elements", s.boardHandler.GetElements)
	boardGroup.Get("/:boardId/presence", s.boardHandler.GetPresence)

	// WebSocket 보드 동기화 엔드포인트
	s.app.Get("/ws/boards", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, auth.AuthMiddleware(s.jwtManager), websocket.New(s.boardWS.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작. Blocks until the listener is closed by Shutdown.
func (s *Server) Start() error {
	s.logger.Info("whiteboard sync server starting",
		zap.String("addr", s.cfg.Server.Port),
		zap.String("websocket", "/ws/boards"))
	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료. Hijacked websocket connections are not tracked by
// fiber; the caller closes them through the broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.Sync.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return s.app.ShutdownWithTimeout(timeout)
}
