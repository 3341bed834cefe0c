package notifications

import (
	"context"
	"testing"
)

func TestInMemoryNotifier_Send(t *testing.T) {
	n := NewInMemoryNotifier()
	ctx := context.Background()

	err := n.Send(ctx, Notification{
		Type:       NotificationCapacityExhausted,
		ModelGroup: "gpt-4",
		Message:    "all deployments at capacity",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := n.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Type != NotificationCapacityExhausted || got[0].ModelGroup != "gpt-4" {
		t.Errorf("unexpected notification: %+v", got[0])
	}
}

func TestInMemoryNotifier_Handlers(t *testing.T) {
	n := NewInMemoryNotifier()
	ctx := context.Background()

	var seen []NotificationType
	n.OnNotification(func(notification Notification) {
		seen = append(seen, notification.Type)
	})

	n.Send(ctx, Notification{Type: NotificationBudgetWarning, KeyID: "key-1"})
	n.Send(ctx, Notification{Type: NotificationBudgetExceeded, KeyID: "key-1"})

	if len(seen) != 2 || seen[0] != NotificationBudgetWarning || seen[1] != NotificationBudgetExceeded {
		t.Errorf("unexpected handler sequence: %v", seen)
	}
}

func TestInMemoryNotifier_Clear(t *testing.T) {
	n := NewInMemoryNotifier()
	ctx := context.Background()

	n.Send(ctx, Notification{Type: NotificationDeploymentDown})
	n.Clear()

	if got := n.GetNotifications(); len(got) != 0 {
		t.Errorf("expected no notifications after clear, got %d", len(got))
	}
}
