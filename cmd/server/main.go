package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taptendance/internal/archive"
	"taptendance/internal/auth"
	"taptendance/internal/config"
	"taptendance/internal/httpmiddleware"
	"taptendance/internal/ledger"
	"taptendance/internal/metrics"
	"taptendance/internal/netid"
	"taptendance/internal/payload"
	"taptendance/internal/queue"
	"taptendance/internal/scanner"
	"taptendance/internal/session"
	"taptendance/internal/store"
	"taptendance/internal/view"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: archive db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "taptendance:records")
	}

	estimator := netid.New(nil, cfg.RelaxedNetwork)
	localSig := estimator.Estimate(context.Background())
	log.Printf("scanner network signature: %s", localSig)

	book := ledger.New(estimator)
	sessions := session.NewManager(estimator)
	creds := auth.NewCredentialStore(cfg.AllowedEmails)

	// scan sink: every decoded payload lands here, already past the
	// cooldown gate. The loop context keeps a queue publish from pinning
	// the decoder goroutine once the scanner stops.
	sink := func(ctx context.Context, p payload.Payload) {
		handleScan(ctx, p, book, localSig, q)
	}

	scan := scanner.New(func(ctx context.Context) (scanner.FrameSource, error) {
		return scanner.OpenHTTPFrameSource(ctx, cfg.SnapshotURL)
	}, scanner.NewQRDecoder(), sink, nil)
	defer scan.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/signup", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := creds.Register(req.Email, req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		issueTokens(c, cfg, req.Email)
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := creds.Verify(req.Email, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		issueTokens(c, cfg, req.Email)
	})

	// Student routes: gated by the join link, never by operator auth.
	r.GET("/v1/session/join", func(c *gin.Context) {
		link := c.Query("link")
		if link == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "link query parameter required"})
			return
		}
		studentSig := estimator.Estimate(c.Request.Context())
		res := sessions.Join(link, studentSig)
		switch res.Status {
		case session.JoinAccepted:
			c.JSON(http.StatusOK, gin.H{"status": res.Status.String(), "session": res.Token})
		case session.JoinNetworkMismatch:
			c.JSON(http.StatusForbidden, gin.H{
				"status": res.Status.String(),
				"error":  "you must be on the same network as the admin to join this session",
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"status": res.Status.String(), "error": "malformed session link"})
		}
	})

	r.POST("/v1/attendance/submit", func(c *gin.Context) {
		var req struct {
			Link    string `json:"link" binding:"required"`
			ID      string `json:"id" binding:"required"`
			Name    string `json:"name" binding:"required"`
			Course  string `json:"course" binding:"required"`
			Year    string `json:"year" binding:"required"`
			Section string `json:"section" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "please fill in all fields"})
			return
		}

		studentSig := estimator.Estimate(c.Request.Context())
		res := sessions.Join(req.Link, studentSig)
		if res.Status != session.JoinAccepted {
			c.JSON(http.StatusForbidden, gin.H{"error": "no active session for this device"})
			return
		}

		att := payload.Attendance{
			ID:               req.ID,
			Name:             req.Name,
			Course:           req.Course,
			Year:             req.Year,
			Section:          req.Section,
			IP:               studentSig,
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			SessionTimestamp: res.Token.Timestamp,
		}
		encoded, err := payload.Encode(att)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		png, err := session.AttendanceQR(encoded)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"payload": encoded,
			"qr_png":  base64.StdEncoding.EncodeToString(png),
		})
	})

	// Operator console routes.
	admin := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/session", func(c *gin.Context) {
		tok := sessions.Create(localSig)
		link, _ := sessions.JoinLink(cfg.BaseURL)
		png, err := session.SessionQR(link)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
			return
		}
		if localSig == netid.Loopback {
			log.Printf("session created in fallback network mode, all devices will be allowed")
		}
		c.JSON(http.StatusCreated, gin.H{
			"session":  tok,
			"join_url": link,
			"qr_png":   base64.StdEncoding.EncodeToString(png),
		})
	})

	admin.POST("/scanner/start", func(c *gin.Context) {
		if err := scan.Start(c.Request.Context()); err != nil {
			if err == scanner.ErrAlreadyRunning {
				c.JSON(http.StatusConflict, gin.H{"error": "scanner is already running"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"running": true})
	})

	admin.POST("/scanner/stop", func(c *gin.Context) {
		scan.Stop()
		c.JSON(http.StatusOK, gin.H{"running": false})
	})

	admin.GET("/scanner/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"running": scan.Session().Running()})
	})

	// Manual path for QR text decoded from an uploaded image; it shares
	// the cooldown gate with the live loop.
	admin.POST("/scans", func(c *gin.Context) {
		var req struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !scan.Session().Admit() {
			metrics.CooldownDrops.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "scan dropped by cooldown"})
			return
		}
		p := payload.Decode(req.Text)
		note := handleScan(c.Request.Context(), p, book, localSig, q)
		c.JSON(http.StatusOK, note)
	})

	admin.GET("/records", func(c *gin.Context) {
		records := view.Filter(book.Records(), view.Query{
			Window: view.ParseWindow(c.Query("window")),
			Search: c.Query("search"),
		}, time.Now())
		c.JSON(http.StatusOK, gin.H{"records": records, "rows": view.Project(records)})
	})

	admin.POST("/records/markout", func(c *gin.Context) {
		var req struct {
			ID string `json:"id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec := book.MarkOut(req.ID)
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open record for this student"})
			return
		}
		publishEntry(c.Request.Context(), q, ledger.Outcome{Status: ledger.TimeOutRecorded, Record: rec})
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	admin.POST("/records/markallout", func(c *gin.Context) {
		closed := book.MarkAllOut()
		if len(closed) == 0 {
			c.JSON(http.StatusOK, gin.H{"closed": 0, "message": "there are no open records to mark out"})
			return
		}
		for i := range closed {
			publishEntry(c.Request.Context(), q, ledger.Outcome{Status: ledger.TimeOutRecorded, Record: &closed[i]})
		}
		c.JSON(http.StatusOK, gin.H{"closed": len(closed)})
	})

	admin.POST("/records/reset", func(c *gin.Context) {
		book.Reset()
		c.JSON(http.StatusOK, gin.H{"records": 0})
	})

	admin.GET("/records/export", func(c *gin.Context) {
		records := book.Records()
		if len(records) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no attendance records to export"})
			return
		}
		now := time.Now()
		filename := view.Filename(c.Query("title"), now)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := view.WriteXLSX(c.Writer, records, c.Query("title"), now); err != nil {
			log.Printf("export failed: %v", err)
		}
	})

	admin.GET("/archive", func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive db not configured"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		entries, err := archive.NewRepository(db.Client).List(c.Request.Context(), c.Query("student_id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// handleScan routes one gated payload: attendance payloads hit the
// ledger, everything else is reported informationally. Each outcome maps
// to exactly one notification category.
func handleScan(ctx context.Context, p payload.Payload, book *ledger.Ledger, localSig string, q queue.Queue) gin.H {
	switch p.Kind {
	case payload.KindAttendance:
		out := book.Apply(p.Attendance, ledger.Context{LocalSignature: localSig})
		metrics.ScanOutcomes.WithLabelValues(out.Status.String()).Inc()
		switch out.Status {
		case ledger.TimeInRecorded:
			log.Printf("time-in recorded: %s added to records", p.Attendance.Name)
			publishEntry(ctx, q, out)
		case ledger.TimeOutRecorded:
			log.Printf("time-out recorded: %s marked out", p.Attendance.Name)
			publishEntry(ctx, q, out)
		case ledger.NetworkMismatch:
			log.Printf("network mismatch: scanner (%s) vs student (%s)", localSig, p.Attendance.IP)
		case ledger.DuplicateEntry:
			log.Printf("duplicate entry: %s already has an attendance entry", p.Attendance.Name)
		}
		return gin.H{"category": out.Status.String(), "record": out.Record}
	case payload.KindLegacy:
		log.Printf("legacy payload scanned: %s", p.Attendance.Name)
		return gin.H{"category": "legacy", "raw": truncate(p.Raw, 50)}
	case payload.KindURL:
		log.Printf("url scanned: %s", truncate(p.Raw, 50))
		return gin.H{"category": "url", "raw": truncate(p.Raw, 50)}
	default:
		log.Printf("raw text scanned: %s", truncate(p.Raw, 50))
		return gin.H{"category": "raw", "raw": truncate(p.Raw, 50)}
	}
}

func publishEntry(ctx context.Context, q queue.Queue, out ledger.Outcome) {
	entry, err := archive.FromOutcome(out)
	if err != nil {
		return
	}
	body, err := entry.Marshal()
	if err != nil {
		log.Printf("archive entry marshal failed: %v", err)
		return
	}
	if err := q.Publish(ctx, queue.Message{Type: "record", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func issueTokens(c *gin.Context, cfg config.App, email string) {
	tokens, err := auth.Issue(email, auth.RoleOperator, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
