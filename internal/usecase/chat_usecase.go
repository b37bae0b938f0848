package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/internal/infrastructure/ratelimit"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
	"tutorchat/pkg/utils"
)

// PendingTracker receives the optimistic lifecycle of a send: the message is
// added before it is stored, then either confirmed or rolled back.
type PendingTracker interface {
	AddPending(m *entity.Message)
	Confirm(id string)
	Rollback(id string)
}

type noopTracker struct{}

func (noopTracker) AddPending(*entity.Message) {}
func (noopTracker) Confirm(string)             {}
func (noopTracker) Rollback(string)            {}

type ChatUseCase struct {
	resolver         *ThreadResolver
	orderRepo        repository.OrderRepository
	tutorRepo        repository.TutorRepository
	messageRepo      repository.MessageRepository
	notificationRepo repository.NotificationRepository
	rateLimiter      *ratelimit.RateLimiter
	now              func() time.Time
}

func NewChatUseCase(
	resolver *ThreadResolver,
	orderRepo repository.OrderRepository,
	tutorRepo repository.TutorRepository,
	messageRepo repository.MessageRepository,
	notificationRepo repository.NotificationRepository,
	rateLimiter *ratelimit.RateLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		resolver:         resolver,
		orderRepo:        orderRepo,
		tutorRepo:        tutorRepo,
		messageRepo:      messageRepo,
		notificationRepo: notificationRepo,
		rateLimiter:      rateLimiter,
		now:              time.Now,
	}
}

type SendMessageInput struct {
	Key     entity.ThreadKey
	Sender  entity.Actor
	Body    string
	Tracker PendingTracker
}

type BiddingThreadSummary struct {
	Key       entity.ThreadKey `json:"key"`
	Tutor     *entity.Tutor    `json:"tutor"`
	Unread    int              `json:"unread"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Send stores a message and notifies the other side of the thread. Store
// failures are returned as retryable errors; nothing is retried here.
func (uc *ChatUseCase) Send(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, errors.Validation("Message body cannot be empty")
	}

	if uc.rateLimiter != nil {
		allowed, wait := uc.rateLimiter.Allow(input.Sender.ID, ratelimit.ActionSendMessage)
		if !allowed {
			logger.Warn("Send rate limited: user %s must wait %v", input.Sender.ID, wait)
			return nil, errors.TooManyRequests(fmt.Sprintf("Too many messages, try again in %v", wait.Round(time.Second)))
		}
	}

	thread, err := uc.resolver.Verify(ctx, input.Key)
	if err != nil {
		return nil, err
	}
	if err := uc.resolver.Authorize(thread, input.Sender); err != nil {
		return nil, err
	}

	id := utils.NextID()
	message := &entity.Message{
		ID:         id.String(),
		Seq:        id.Int64(),
		OrderID:    thread.Key.OrderID,
		TutorID:    thread.Key.TutorID,
		SenderID:   input.Sender.ID,
		SenderRole: input.Sender.Role,
		Body:       body,
		CreatedAt:  uc.now().UTC(),
	}

	tracker := input.Tracker
	if tracker == nil {
		tracker = noopTracker{}
	}
	tracker.AddPending(message)

	if err := uc.messageRepo.Append(ctx, thread.Key, message); err != nil {
		tracker.Rollback(message.ID)
		logger.Error("Send: append to thread %s failed: %v", thread.Key, err)
		return nil, errors.Transient("Message could not be sent, please try again", err)
	}

	// The message is stored at this point; a ledger failure only costs an
	// unread badge and must not make the sender resend.
	if err := uc.notificationRepo.RecordDelivery(ctx, thread, input.Sender.Role); err != nil {
		logger.Error("Send: message %s stored but delivery not recorded on %s: %v", message.ID, thread.Key, err)
	}

	tracker.Confirm(message.ID)
	return message, nil
}

// Open marks the thread read for reader. Callers invoke it once per
// thread-open transition.
func (uc *ChatUseCase) Open(ctx context.Context, key entity.ThreadKey, reader entity.Actor) (*entity.Thread, error) {
	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(reader.ID, ratelimit.ActionOpenThread); !allowed {
			return nil, errors.TooManyRequests(fmt.Sprintf("Too many threads opened, try again in %v", wait.Round(time.Second)))
		}
	}

	thread, err := uc.readable(ctx, key, reader)
	if err != nil {
		return nil, err
	}

	if err := uc.notificationRepo.MarkRead(ctx, thread.Key, reader.Role); err != nil {
		logger.Error("Open: mark read on %s for %s failed: %v", thread.Key, reader.Role, err)
		return nil, errors.Transient("Thread could not be marked as read", err)
	}
	return thread, nil
}

// ResolveThread resolves and checks access in one step.
func (uc *ChatUseCase) ResolveThread(ctx context.Context, orderID string, actor entity.Actor, tutorID string) (*entity.Thread, error) {
	key, err := uc.resolver.Resolve(ctx, orderID, actor, tutorID)
	if err != nil {
		return nil, err
	}
	return uc.readable(ctx, key, actor)
}

// LocateThread is ResolveThread with an optional explicit mode. Asking for
// the bidding thread reaches a candidate thread even after the order has
// been assigned, which plain resolution never returns.
func (uc *ChatUseCase) LocateThread(ctx context.Context, orderID string, actor entity.Actor, tutorID string, mode entity.ThreadMode) (*entity.Thread, error) {
	if !validMode(mode) {
		return nil, errors.BadRequest("Unknown thread mode", nil)
	}
	if mode != entity.ModeBidding {
		return uc.ResolveThread(ctx, orderID, actor, tutorID)
	}

	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" && actor.Role == entity.RoleTutor {
		tutorID = actor.ID
	}
	if tutorID == "" {
		return nil, errors.AmbiguousThread(orderID)
	}
	return uc.readable(ctx, entity.BiddingKey(strings.TrimSpace(orderID), tutorID), actor)
}

func (uc *ChatUseCase) GetMessages(ctx context.Context, key entity.ThreadKey, actor entity.Actor) ([]*entity.Message, error) {
	if _, err := uc.readable(ctx, key, actor); err != nil {
		return nil, err
	}
	return uc.messageRepo.List(ctx, key)
}

func (uc *ChatUseCase) UnreadCount(ctx context.Context, key entity.ThreadKey, actor entity.Actor) (int, error) {
	if _, err := uc.readable(ctx, key, actor); err != nil {
		return 0, err
	}
	return uc.notificationRepo.UnreadCount(ctx, key, actor.Role)
}

// VisibleScope narrows scope to what actor may count: clients only their
// own orders, tutors only their own threads.
func (uc *ChatUseCase) VisibleScope(actor entity.Actor, scope entity.NotificationScope) entity.NotificationScope {
	switch actor.Role {
	case entity.RoleClient:
		scope.ClientID = actor.ID
	case entity.RoleTutor:
		scope.TutorID = actor.ID
	}
	return scope
}

func (uc *ChatUseCase) AggregateUnread(ctx context.Context, actor entity.Actor, scope entity.NotificationScope) (int, error) {
	if !validMode(scope.Mode) {
		return 0, errors.BadRequest("Unknown thread mode", nil)
	}
	return uc.notificationRepo.AggregateUnread(ctx, actor.Role, uc.VisibleScope(actor, scope))
}

// ListNotifications returns the ledger entries visible to actor in scope.
func (uc *ChatUseCase) ListNotifications(ctx context.Context, actor entity.Actor, scope entity.NotificationScope) ([]*entity.NotificationEntry, error) {
	if !validMode(scope.Mode) {
		return nil, errors.BadRequest("Unknown thread mode", nil)
	}
	return uc.notificationRepo.List(ctx, uc.VisibleScope(actor, scope))
}

// ListBiddingThreads lists the candidate threads of an order with the tutor
// profile and the caller's unread count, most recent first.
func (uc *ChatUseCase) ListBiddingThreads(ctx context.Context, orderID string, actor entity.Actor) ([]*BiddingThreadSummary, error) {
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == entity.RoleClient && actor.ID != order.ClientID {
		return nil, errors.Forbidden("You are not the owner of this order", nil)
	}

	scope := uc.VisibleScope(actor, entity.NotificationScope{ClientID: order.ClientID, Mode: entity.ModeBidding})
	entries, err := uc.notificationRepo.List(ctx, scope)
	if err != nil {
		return nil, err
	}

	side := actor.Role.Side()
	summaries := make([]*BiddingThreadSummary, 0, len(entries))
	for _, e := range entries {
		if e.Key.OrderID != order.ID {
			continue
		}

		tutor, err := uc.tutorRepo.GetByID(ctx, e.Key.TutorID)
		if err != nil {
			if !errors.Is(err, errors.CodeNotFound) {
				return nil, err
			}
			tutor = &entity.Tutor{ID: e.Key.TutorID}
		}

		summaries = append(summaries, &BiddingThreadSummary{
			Key:       e.Key,
			Tutor:     tutor,
			Unread:    e.Unread(side),
			UpdatedAt: e.UpdatedAt,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (uc *ChatUseCase) readable(ctx context.Context, key entity.ThreadKey, actor entity.Actor) (*entity.Thread, error) {
	thread, err := uc.resolver.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := uc.resolver.Authorize(thread, actor); err != nil {
		return nil, err
	}
	return thread, nil
}

// validMode accepts the two thread modes or none.
func validMode(mode entity.ThreadMode) bool {
	return mode == "" || mode == entity.ModeActive || mode == entity.ModeBidding
}
