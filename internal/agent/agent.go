package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/knowledge"
	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/internal/observability/alerting"
	"ChemResponse-Chain/internal/pipeline"
	"ChemResponse-Chain/internal/report"
	"ChemResponse-Chain/pkg/logger"
)

// CodeStageDegraded 表示某个阶段没有可用回复，使用了兜底对象。
const CodeStageDegraded xerrors.Code = "STAGE_DEGRADED"

func init() {
	xerrors.Register(CodeStageDegraded, xerrors.Attributes{
		Message:  "stage fell back to default object",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// RunRequest 描述一次预案生成请求。
type RunRequest struct {
	ID    string `json:"id,omitempty"`
	Input string `json:"input"`
	// NumResponses 为每阶段采样数，0 表示使用默认值。
	NumResponses int            `json:"num_responses,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunResult 汇总一次运行的产物。
type RunResult struct {
	RunID          string                  `json:"run_id"`
	Report         pipeline.Report         `json:"report"`
	FallbackStages []string                `json:"fallback_stages,omitempty"`
	MissingInput   []string                `json:"missing_input,omitempty"`
	References     []knowledge.Entry       `json:"references,omitempty"`
	Location       string                  `json:"location,omitempty"`
	Duration       time.Duration           `json:"duration"`
	Outcomes       []pipeline.StageOutcome `json:"-"`
}

// Agent 协调流水线、报告存储与告警，是系统的业务核心。
type Agent struct {
	client       llm.Client
	sink         report.Sink
	numResponses int
	runTimeout   time.Duration
	observers    []pipeline.Observer
	alerter      alerting.Dispatcher
	knowledge    knowledge.Provider
	logger       *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithNumResponses 设置请求未指定时的每阶段采样数。
func WithNumResponses(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.numResponses = n
		}
	}
}

// WithRunTimeout 限制整个流水线的执行时间。
func WithRunTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.runTimeout = timeout
	}
}

// WithObserver 注册阶段观察者，例如指标采集。
func WithObserver(o pipeline.Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithAlertDispatcher 配置阶段兜底时的告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = d
	}
}

// WithKnowledge 为运行附加描述中提到的危化品资料。
func WithKnowledge(p knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = p
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建一个 Agent。sink 为 nil 时不落盘。
func New(client llm.Client, sink report.Sink, opts ...Option) *Agent {
	ag := &Agent{
		client:       client,
		sink:         sink,
		numResponses: 1,
		logger:       logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.sink == nil {
		ag.sink = report.Discard{}
	}
	return ag
}

// Execute 执行三阶段流水线并保存预案。单个阶段的失败只会导致兜底；
// 只有取消、超时、阶段约束被破坏或保存失败会返回错误。
func (a *Agent) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if a.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(req.Input) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "事故描述不能为空")
	}
	runID := strings.TrimSpace(req.ID)
	if runID == "" {
		runID = uuid.NewString()
	} else if err := report.ValidateRunID(runID); err != nil {
		return nil, err
	}
	n := req.NumResponses
	if n <= 0 {
		n = a.numResponses
	}
	log := a.logger.With(slog.String("run_id", runID))

	missing := pipeline.CheckInput(req.Input)
	if len(missing) > 0 {
		log.Warn("事故描述缺少关键信息", slog.Any("missing", missing))
	}

	var refs []knowledge.Entry
	if a.knowledge != nil {
		refs = a.knowledge.Lookup(req.Input)
	}

	runCtx := ctx
	if a.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.runTimeout)
		defer cancel()
	}

	opts := []pipeline.Option{pipeline.WithNumResponses(n), pipeline.WithLogger(log)}
	for _, o := range a.observers {
		opts = append(opts, pipeline.WithObserver(o))
	}
	p, err := pipeline.New(a.client, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := p.Run(runCtx, pipeline.NewState(req.Input))
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.Finalize(res.Snapshots); err != nil {
		return nil, err
	}

	plan := res.Report()
	if !plan.Complete() {
		log.Warn("预案不完整", slog.Int("completed_stages", plan.CompletedStages()))
	}
	fallback := make([]string, 0, len(res.Outcomes))
	for _, outcome := range res.Outcomes {
		if outcome.Fallback {
			fallback = append(fallback, outcome.Stage.String())
			a.alertDegraded(ctx, runID, outcome)
		}
	}

	location, err := a.sink.Save(ctx, runID, report.Documents{Plan: plan, Debug: res.Debug(), References: refs})
	if err != nil {
		return nil, err
	}
	result := &RunResult{
		RunID:          runID,
		Report:         plan,
		MissingInput:   missing,
		References:     refs,
		Location:       location,
		Duration:       time.Since(start),
		Outcomes:       res.Outcomes,
	}
	if len(fallback) > 0 {
		result.FallbackStages = fallback
	}
	log.Info("预案生成完成",
		slog.Int("completed_stages", plan.CompletedStages()),
		slog.Any("fallback_stages", result.FallbackStages),
		slog.String("location", location),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (a *Agent) alertDegraded(ctx context.Context, runID string, outcome pipeline.StageOutcome) {
	if a.alerter == nil {
		return
	}
	metadata := map[string]string{
		"responses": strconv.Itoa(outcome.Responses),
		"rejected":  strconv.Itoa(outcome.Rejected),
	}
	if outcome.Err != nil {
		metadata["cause"] = outcome.Err.Error()
	}
	event := alerting.Event{
		Code:       CodeStageDegraded,
		Message:    fmt.Sprintf("阶段 %s 没有可用回复，已使用兜底对象", outcome.Stage),
		Severity:   xerrors.AttributesOf(CodeStageDegraded).Severity,
		RunID:      runID,
		Stage:      outcome.Stage.String(),
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := a.alerter.Notify(ctx, event); err != nil {
		a.logger.Error("告警通知失败", slog.Any("error", err), slog.String("run_id", runID))
	}
}
