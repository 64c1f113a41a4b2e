package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// MessageChannel 发送消息给指定用户，recipients 为空时广播
type MessageChannel interface {
	Send(ctx context.Context, msgType string, payload any, recipients ...string) error
}

// ApprovalState 批准握手状态
type ApprovalState string

const (
	ApprovalNotNeeded ApprovalState = "noApprovalNeeded"
	ApprovalPendingGM ApprovalState = "pendingGM"
	ApprovalApproved  ApprovalState = "approved"
	ApprovalDenied    ApprovalState = "denied"
)

// 拒绝原因
const (
	reasonNoGM      = "No GM is available to approve the request."
	reasonTimeout   = "The GM did not respond in time."
	reasonDismissed = "The GM dismissed the request."
)

// ApprovalOutcome 握手结果
type ApprovalOutcome struct {
	State            ApprovalState
	GMID             string
	AdjustedAttempts *int
	Reason           string
}

// ApprovalCoordinator GM批准握手；请求与回复通过消息通道按请求ID汇合
type ApprovalCoordinator struct {
	channel MessageChannel
	users   UserDirectory
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	request models.PendingApprovalRequest
	reply   chan models.ApprovalResponse
}

func NewApprovalCoordinator(channel MessageChannel, users UserDirectory, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *ApprovalCoordinator {
	return &ApprovalCoordinator{
		channel: channel,
		users:   users,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.Named("ApprovalCoordinator"),
		pending: make(map[string]*pendingApproval),
	}
}

// Request 需要时向所有GM发出请求并等待回复；超时与关闭对话框都视为拒绝
func (ac *ApprovalCoordinator) Request(ctx context.Context, required bool, requester models.User, req models.PendingApprovalRequest) (ApprovalOutcome, error) {
	if !required || requester.IsGM {
		return ApprovalOutcome{State: ApprovalNotNeeded}, nil
	}

	req.RequestID = uuid.New().String()
	req.UserID = requester.ID
	req.UserName = requester.Name
	req.CreatedAt = time.Now()

	gms, err := ac.users.GMs(ctx)
	if err != nil {
		return ApprovalOutcome{}, wrapError(CodePersistenceFailure, "could not list GMs", err)
	}
	if len(gms) == 0 {
		outcome := ApprovalOutcome{State: ApprovalDenied, Reason: reasonNoGM}
		ac.metrics.approval(outcome.State)
		ac.notifyDenied(ctx, req, outcome)
		return outcome, nil
	}

	p := &pendingApproval{request: req, reply: make(chan models.ApprovalResponse, 1)}
	ac.mu.Lock()
	ac.pending[req.RequestID] = p
	ac.mu.Unlock()
	defer ac.forget(req.RequestID)

	recipients := make([]string, 0, len(gms))
	for _, gm := range gms {
		recipients = append(recipients, gm.ID)
	}
	if err := ac.channel.Send(ctx, models.MsgGMApprovalRequest, req, recipients...); err != nil {
		return ApprovalOutcome{}, wrapError(CodePersistenceFailure, "could not send approval request", err)
	}
	ac.logger.Debug("等待GM批准",
		zap.String("requestID", req.RequestID),
		zap.String("actorID", req.ActorID),
		zap.String("targetID", req.TargetID),
		zap.Int("gms", len(recipients)),
	)

	timer := time.NewTimer(ac.timeout)
	defer timer.Stop()

	var outcome ApprovalOutcome
	select {
	case resp := <-p.reply:
		outcome = outcomeOf(resp)
	case <-timer.C:
		outcome = ApprovalOutcome{State: ApprovalDenied, Reason: reasonTimeout}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = ApprovalOutcome{State: ApprovalDenied, Reason: reasonTimeout}
		} else {
			return ApprovalOutcome{}, ctx.Err()
		}
	}

	ac.metrics.approval(outcome.State)
	if outcome.State == ApprovalDenied {
		ac.notifyDenied(ctx, req, outcome)
	}
	ac.logger.Info("GM批准结果",
		zap.String("requestID", req.RequestID),
		zap.String("state", string(outcome.State)),
		zap.String("reason", outcome.Reason),
	)
	return outcome, nil
}

func outcomeOf(resp models.ApprovalResponse) ApprovalOutcome {
	if !resp.Approved {
		reason := resp.Reason
		if reason == "" {
			reason = reasonDismissed
		}
		return ApprovalOutcome{State: ApprovalDenied, GMID: resp.GMID, Reason: reason}
	}
	out := ApprovalOutcome{State: ApprovalApproved, GMID: resp.GMID}
	if resp.AdjustedAttempts != nil {
		n := max(*resp.AdjustedAttempts, 0)
		out.AdjustedAttempts = &n
	}
	return out
}

// HandleResponse 入站的GM回复；第一条回复生效，未知或已结束的请求返回 false
func (ac *ApprovalCoordinator) HandleResponse(resp models.ApprovalResponse) bool {
	ac.mu.Lock()
	p, ok := ac.pending[resp.RequestID]
	if ok {
		delete(ac.pending, resp.RequestID)
	}
	ac.mu.Unlock()
	if !ok {
		ac.logger.Debug("忽略未知的批准回复", zap.String("requestID", resp.RequestID))
		return false
	}
	p.reply <- resp
	return true
}

// Pending 当前等待中的请求（供GM重新连接后查看）
func (ac *ApprovalCoordinator) Pending() []models.PendingApprovalRequest {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	out := make([]models.PendingApprovalRequest, 0, len(ac.pending))
	for _, p := range ac.pending {
		out = append(out, p.request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeniedNotice 发给请求者的拒绝通知
type DeniedNotice struct {
	RequestID  string `json:"request_id,omitempty"`
	ActorName  string `json:"actor_name"`
	TargetName string `json:"target_name"`
	Reason     string `json:"reason"`
}

func (ac *ApprovalCoordinator) notifyDenied(ctx context.Context, req models.PendingApprovalRequest, outcome ApprovalOutcome) {
	notice := DeniedNotice{
		RequestID:  req.RequestID,
		ActorName:  req.ActorName,
		TargetName: req.TargetName,
		Reason:     outcome.Reason,
	}
	// 请求可能已因超时结束，通知失败只记录
	if err := ac.channel.Send(context.WithoutCancel(ctx), models.MsgRecallDenied, notice, req.UserID); err != nil {
		ac.logger.Warn("发送拒绝通知失败", zap.Error(err), zap.String("userID", req.UserID))
	}
}

func (ac *ApprovalCoordinator) forget(requestID string) {
	ac.mu.Lock()
	delete(ac.pending, requestID)
	ac.mu.Unlock()
}
