package services_test

import (
	"context"
	"errors"
	"testing"

	"codeshop/internal/domain"
	"codeshop/internal/events"
)

func TestTicketConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, admin := f.user(t, "u-alice"), f.user(t, "u-admin")

	o, err := f.orders.Create(ctx, alice, "steam-key-001", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	tk, err := f.tickets.Open(ctx, alice, "Key not working", "It says already redeemed", o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != domain.TicketOpen || tk.OrderID == nil || len(tk.Messages) != 1 {
		t.Fatalf("opened ticket = %+v", tk)
	}

	tk, err = f.tickets.Reply(ctx, admin, tk.ID, "Sending a replacement")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != domain.TicketAnswered || !tk.Messages[1].Staff {
		t.Fatalf("after staff reply: %+v", tk)
	}
	tk, err = f.tickets.Reply(ctx, alice, tk.ID, "Thanks, still broken")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != domain.TicketOpen {
		t.Fatalf("customer reply should reopen, got %s", tk.Status)
	}

	if _, err := f.tickets.Close(ctx, alice, tk.ID); err != nil {
		t.Fatal(err)
	}
	var verr *domain.ValidationError
	if _, err := f.tickets.Reply(ctx, alice, tk.ID, "one more"); !errors.As(err, &verr) {
		t.Fatalf("reply to closed ticket: %v", err)
	}

	got, err := f.tickets.Get(ctx, admin, tk.ID)
	if err != nil || len(got.Messages) != 3 || got.Status != domain.TicketClosed {
		t.Fatalf("stored ticket = %+v err = %v", got, err)
	}
	queue, _ := f.tickets.ListAll(ctx, domain.TicketClosed)
	if len(queue) != 1 {
		t.Fatalf("closed queue = %d", len(queue))
	}

	var ticketEvents int
	for _, e := range f.events.seen() {
		switch e {
		case events.TicketOpened, events.TicketReplied, events.TicketClosed:
			ticketEvents++
		}
	}
	if ticketEvents != 4 {
		t.Fatalf("ticket events = %d", ticketEvents)
	}
}

func TestTicketOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "u-alice"), f.user(t, "u-bob")

	o, _ := f.orders.Create(ctx, alice, "steam-key-001", 1, "")
	if _, err := f.tickets.Open(ctx, bob, "Not mine", "hi", o.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ticket on someone else's order: %v", err)
	}
	tk, err := f.tickets.Open(ctx, alice, "Question", "When?", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.tickets.Get(ctx, bob, tk.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("foreign read: %v", err)
	}
	if _, err := f.tickets.Open(ctx, alice, " ", "body", ""); err == nil {
		t.Fatal("blank subject accepted")
	}
	mine, _ := f.tickets.ListForUser(ctx, bob.ID)
	if len(mine) != 0 {
		t.Fatalf("bob sees %d tickets", len(mine))
	}
}
