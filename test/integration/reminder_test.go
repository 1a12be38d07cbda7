//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/domain/reminder"
	"github.com/mentalspace/ehr/internal/platform/notification"
)

func seedReminders(t *testing.T, ctx context.Context, f *bookingFixture, n int) (uuid.UUID, []*reminder.Reminder) {
	t.Helper()
	cl := createTestClient(t, ctx, f.tenant, "Remi", "Nder")
	a, err := f.book(ctx, f.request(cl.ID, at(t, f.day, 9, 0)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	rems := make([]*reminder.Reminder, n)
	for i := range rems {
		rems[i] = &reminder.Reminder{
			AppointmentID: a.ID,
			ClientID:      cl.ID,
			Channel:       notification.ChannelEmail,
			Template:      "appointment-reminder",
			Recipient:     cl.Email,
			SendAt:        base.Add(time.Duration(i) * time.Minute),
		}
	}
	mustTenant(t, ctx, f.tenant, func(ctx context.Context) error {
		return reminder.NewRepoPG(globalDB.Pool).CreateBatch(ctx, rems)
	})
	return a.ID, rems
}

func TestReminder_ClaimDueIsExclusive(t *testing.T) {
	ctx := context.Background()
	f := newBookingFixture(t, ctx, 0)
	const total = 20
	seedReminders(t, ctx, f, total)

	repo := reminder.NewRepoPG(globalDB.Pool)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims = map[uuid.UUID]int{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := withTenantConn(ctx, f.tenant, func(ctx context.Context) error {
				got, err := repo.ClaimDue(ctx, time.Now(), 10)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for _, r := range got {
					claims[r.ID]++
				}
				return nil
			})
			if err != nil {
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	for id, n := range claims {
		if n > 1 {
			t.Errorf("reminder %s claimed %d times", id, n)
		}
	}
	if len(claims) != total {
		t.Errorf("expected all %d reminders claimed, got %d", total, len(claims))
	}
}

func TestReminder_CancelAndRevive(t *testing.T) {
	ctx := context.Background()
	f := newBookingFixture(t, ctx, 0)
	apptID, rems := seedReminders(t, ctx, f, 3)
	repo := reminder.NewRepoPG(globalDB.Pool)

	mustTenant(t, ctx, f.tenant, func(ctx context.Context) error {
		claimed, err := repo.ClaimDue(ctx, rems[0].SendAt, 1)
		if err != nil {
			return err
		}
		if len(claimed) != 1 || claimed[0].ID != rems[0].ID {
			t.Fatalf("expected the earliest reminder claimed, got %v", claimed)
		}
		n, err := repo.CancelPending(ctx, apptID)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("expected 2 pending reminders cancelled, got %d", n)
		}

		revived := []*reminder.Reminder{{
			AppointmentID: apptID,
			ClientID:      rems[1].ClientID,
			Channel:       rems[1].Channel,
			Template:      rems[1].Template,
			Recipient:     "new@example.com",
			SendAt:        rems[1].SendAt,
		}}
		if err := repo.CreateBatch(ctx, revived); err != nil {
			return err
		}
		got, err := repo.Get(ctx, rems[1].ID)
		if err != nil {
			return err
		}
		if got.Status != reminder.StatusPending || got.Recipient != "new@example.com" {
			t.Errorf("expected revived pending reminder, got %+v", got)
		}

		queued, err := repo.Get(ctx, rems[0].ID)
		if err != nil {
			return err
		}
		if queued.Status != reminder.StatusQueued {
			t.Errorf("claimed reminder should stay queued, got %s", queued.Status)
		}
		return nil
	})
}

func TestReminder_DeliveryReceipt(t *testing.T) {
	ctx := context.Background()
	f := newBookingFixture(t, ctx, 0)
	_, rems := seedReminders(t, ctx, f, 1)
	repo := reminder.NewRepoPG(globalDB.Pool)
	msgID := "msg-" + uuid.NewString()[:8]

	mustTenant(t, ctx, f.tenant, func(ctx context.Context) error {
		if _, err := repo.ClaimDue(ctx, time.Now(), 1); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := repo.MarkSent(ctx, rems[0].ID, msgID, 1, now); err != nil {
			return err
		}
		if err := repo.RecordDelivery(ctx, msgID, true, "", now); err != nil {
			return err
		}
		got, err := repo.Get(ctx, rems[0].ID)
		if err != nil {
			return err
		}
		if got.Status != reminder.StatusDelivered || got.DeliveredAt == nil {
			t.Errorf("expected delivered reminder, got %+v", got)
		}
		return nil
	})
}
