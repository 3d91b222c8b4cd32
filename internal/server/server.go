package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/dunning/internal/clock"
	"github.com/smallbiznis/dunning/internal/config"
	"github.com/smallbiznis/dunning/internal/observability/logger"
	"github.com/smallbiznis/dunning/internal/observability/tracing"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/smallbiznis/dunning/internal/report"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(provideRunner),
	fx.Provide(NewEngine),
	fx.Invoke(run),
)

// Runner is the part of the scheduler the ops endpoints drive.
type Runner interface {
	Run(ctx context.Context, job string, req scheduler.RunRequest) (*scheduler.RunReport, error)
	LastReports() []*scheduler.RunReport
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Runner Runner
	Ledger reminderdomain.Ledger
	Clock  clock.Clock `optional:"true"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

func provideRunner(s *scheduler.Scheduler) Runner { return s }

func NewEngine(p Params) *gin.Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := p.Log.Named("http")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log))
	r.Use(tracing.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler{runner: p.Runner, ledger: p.Ledger, clock: clk, log: log}
	r.GET("/reports/last", h.lastReports)
	r.POST("/runs/:job", h.triggerRun)
	r.GET("/orgs/:org_id/invoices/:invoice_id/reminders", h.reminderHistory)

	return r
}

type handler struct {
	runner Runner
	ledger reminderdomain.Ledger
	clock  clock.Clock
	log    *zap.Logger
}

func (h *handler) lastReports(c *gin.Context) {
	reports := h.runner.LastReports()
	if job := strings.TrimSpace(c.Query("job")); job != "" {
		filtered := reports[:0:0]
		for _, r := range reports {
			if r.Job == job {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	h.writeEnvelope(c, http.StatusOK, reports)
}

// triggerRun runs one job synchronously. The run continues under the
// scheduler's own timeout even if the client disconnects.
func (h *handler) triggerRun(c *gin.Context) {
	job := c.Param("job")
	req := scheduler.RunRequest{}

	if raw := strings.TrimSpace(c.Query("dry_run")); raw != "" {
		dry, err := strconv.ParseBool(raw)
		if err != nil {
			abortWithError(c, ErrInvalidRequest)
			return
		}
		req.DryRun = dry
	}
	if raw := strings.TrimSpace(c.Query("company")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			abortWithError(c, ErrInvalidRequest)
			return
		}
		req.OrgID = &id
	}

	rep, err := h.runner.Run(context.WithoutCancel(c.Request.Context()), job, req)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		h.writeEnvelope(c, http.StatusConflict, []*scheduler.RunReport{rep})
		return
	case err != nil:
		abortWithError(c, err)
		return
	}
	h.writeEnvelope(c, http.StatusOK, []*scheduler.RunReport{rep})
}

type reminderEventResponse struct {
	ID           string  `json:"id"`
	FromLevel    string  `json:"from_level"`
	LevelReached string  `json:"level_reached"`
	FeeCharged   string  `json:"fee_charged"`
	Interest     *string `json:"interest,omitempty"`
	Currency     string  `json:"currency"`
	DaysOverdue  int     `json:"days_overdue"`
	NoticeNumber string  `json:"notice_number"`
	RunID        string  `json:"run_id,omitempty"`
	OccurredAt   string  `json:"occurred_at"`
}

// reminderHistory lists the escalations of one invoice, oldest first.
func (h *handler) reminderHistory(c *gin.Context) {
	orgID, err := snowflake.ParseString(c.Param("org_id"))
	if err != nil {
		abortWithError(c, ErrInvalidRequest)
		return
	}
	invoiceID, err := snowflake.ParseString(c.Param("invoice_id"))
	if err != nil {
		abortWithError(c, ErrInvalidRequest)
		return
	}

	events, err := h.ledger.History(c.Request.Context(), orgID, invoiceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(events) == 0 {
		abortWithError(c, ErrNotFound)
		return
	}

	resp := make([]reminderEventResponse, 0, len(events))
	for _, ev := range events {
		item := reminderEventResponse{
			ID:           ev.ID.String(),
			FromLevel:    ev.FromLevel.String(),
			LevelReached: ev.LevelReached.String(),
			FeeCharged:   formatMinor(ev.FeeCharged, ev.Currency),
			Currency:     ev.Currency,
			DaysOverdue:  ev.DaysOverdue,
			NoticeNumber: ev.NoticeNumber,
			RunID:        ev.RunID,
			OccurredAt:   ev.OccurredAt.UTC().Format(time.RFC3339),
		}
		if ev.Interest != nil {
			interest := formatMinor(*ev.Interest, ev.Currency)
			item.Interest = &interest
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func formatMinor(amount int64, currency string) string {
	return reminderdomain.FromMinor(amount, currency).StringFixed(reminderdomain.MinorUnits(currency))
}

func (h *handler) writeEnvelope(c *gin.Context, status int, reports []*scheduler.RunReport) {
	body, err := report.MarshalJSON(report.NewEnvelope(h.clock.Now(), reports))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: "invalid request"}
	case errors.Is(err, scheduler.ErrUnknownJob),
		errors.Is(err, scheduler.ErrUnknownTenant),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
