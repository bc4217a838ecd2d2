package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newSubscriptionFixture() (*SubscriptionService, *fakeRepo) {
	repo := newFakeRepo()
	return NewSubscriptionService(repo, &fakeIDGen{}, testLogger(), "default"), repo
}

func seedPlan(t *testing.T, repo *fakeRepo) *Plan {
	t.Helper()
	plan := &Plan{Plan: "Standard", Period: "monthly", Amount: 99.0}
	if err := repo.CreatePlan(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestCreatePlanAdminOnly(t *testing.T) {
	svc, _ := newSubscriptionFixture()
	plan := &Plan{Plan: "Gold", Period: "yearly", Amount: 999}

	if err := svc.CreatePlan(context.Background(), userClaims(2), plan); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin err = %v, want ErrForbidden", err)
	}
	if err := svc.CreatePlan(context.Background(), adminClaims(), plan); err != nil {
		t.Errorf("admin create: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	svc, repo := newSubscriptionFixture()
	plan := seedPlan(t, repo)

	sub, err := svc.Subscribe(context.Background(), userClaims(7), SubscribeRequest{
		DeviceID: "dev-1",
		PlanID:   plan.ID,
		Quantity: 3,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if sub.AccountID != 7 {
		t.Errorf("AccountID = %d, want 7", sub.AccountID)
	}
	if sub.Amount != 297.0 {
		t.Errorf("Amount = %v, want plan amount times quantity", sub.Amount)
	}
	if sub.Period != "monthly" {
		t.Errorf("Period = %q, want copied from plan", sub.Period)
	}
	if sub.Status != StatusActive {
		t.Errorf("Status = %q", sub.Status)
	}
	if sub.StartDate == nil || sub.StartDate.IsZero() {
		t.Error("StartDate not stamped")
	}
	// ID generator is empty in this fixture, so the code is locally minted.
	if !strings.HasPrefix(sub.SubscriptionCode, "SUB-") {
		t.Errorf("SubscriptionCode = %q", sub.SubscriptionCode)
	}
}

func TestSubscribeDefaultQuantity(t *testing.T) {
	svc, repo := newSubscriptionFixture()
	plan := seedPlan(t, repo)

	sub, err := svc.Subscribe(context.Background(), userClaims(7), SubscribeRequest{
		DeviceID: "dev-1",
		PlanID:   plan.ID,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1", sub.Quantity)
	}
	if sub.Amount != 99.0 {
		t.Errorf("Amount = %v, want 99", sub.Amount)
	}
}

func TestSubscribeUnknownPlan(t *testing.T) {
	svc, _ := newSubscriptionFixture()
	_, err := svc.Subscribe(context.Background(), userClaims(7), SubscribeRequest{
		DeviceID: "dev-1",
		PlanID:   9999,
	})
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestListSubscriptionsOwnership(t *testing.T) {
	svc, repo := newSubscriptionFixture()
	plan := seedPlan(t, repo)

	if _, err := svc.Subscribe(context.Background(), userClaims(7), SubscribeRequest{
		DeviceID: "dev-1", PlanID: plan.ID,
	}); err != nil {
		t.Fatal(err)
	}

	own, err := svc.ListSubscriptions(context.Background(), userClaims(7), 7)
	if err != nil || len(own) != 1 {
		t.Errorf("own list = %v, err = %v", own, err)
	}

	if _, err := svc.ListSubscriptions(context.Background(), userClaims(8), 7); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign list err = %v, want ErrForbidden", err)
	}

	asAdmin, err := svc.ListSubscriptions(context.Background(), adminClaims(), 7)
	if err != nil || len(asAdmin) != 1 {
		t.Errorf("admin list = %v, err = %v", asAdmin, err)
	}
}

func TestCancelSubscription(t *testing.T) {
	svc, repo := newSubscriptionFixture()
	plan := seedPlan(t, repo)

	sub, err := svc.Subscribe(context.Background(), userClaims(7), SubscribeRequest{
		DeviceID: "dev-1", PlanID: plan.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Cancel(context.Background(), userClaims(8), sub.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign cancel err = %v, want ErrForbidden", err)
	}

	if err := svc.Cancel(context.Background(), userClaims(7), sub.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stored, _ := repo.GetSubscription(context.Background(), sub.ID)
	if stored.Status != StatusInactive {
		t.Errorf("Status = %q, want inactive", stored.Status)
	}
	if stored.EndDate == nil {
		t.Error("EndDate not stamped")
	}

	if err := svc.Cancel(context.Background(), userClaims(7), 9999); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("missing cancel err = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestSaveTankCreateAndUpdate(t *testing.T) {
	svc, repo := newSubscriptionFixture()
	claims := userClaims(7)

	tank, err := svc.SaveTank(context.Background(), claims, 0, TankRequest{
		DeviceID:        "dev-1",
		SaviourCapacity: 1000,
		UpperThreshold:  90,
		LowerThreshold:  20,
	})
	if err != nil {
		t.Fatalf("SaveTank create: %v", err)
	}
	if tank.ID == 0 {
		t.Fatal("tank not assigned an id")
	}
	if tank.AccountID != 7 {
		t.Errorf("AccountID = %d, want 7", tank.AccountID)
	}

	updated, err := svc.SaveTank(context.Background(), claims, tank.ID, TankRequest{
		DeviceID:       "dev-1",
		UpperThreshold: 95,
	})
	if err != nil {
		t.Fatalf("SaveTank update: %v", err)
	}
	if updated.ID != tank.ID {
		t.Errorf("updated id = %d, want %d", updated.ID, tank.ID)
	}
	if updated.UpperThreshold != 95 {
		t.Errorf("UpperThreshold = %v", updated.UpperThreshold)
	}

	stored, _ := repo.GetTank(context.Background(), tank.ID)
	if stored.UpperThreshold != 95 {
		t.Errorf("stored UpperThreshold = %v", stored.UpperThreshold)
	}
}

func TestSaveTankOwnership(t *testing.T) {
	svc, _ := newSubscriptionFixture()

	tank, err := svc.SaveTank(context.Background(), userClaims(7), 0, TankRequest{DeviceID: "dev-1"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SaveTank(context.Background(), userClaims(8), tank.ID, TankRequest{DeviceID: "dev-1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign update err = %v, want ErrForbidden", err)
	}
	if _, err := svc.SaveTank(context.Background(), adminClaims(), tank.ID, TankRequest{DeviceID: "dev-1"}); err != nil {
		t.Errorf("admin update: %v", err)
	}
	if _, err := svc.SaveTank(context.Background(), userClaims(7), 9999, TankRequest{DeviceID: "dev-1"}); !errors.Is(err, ErrTankNotFound) {
		t.Errorf("missing tank err = %v, want ErrTankNotFound", err)
	}
}

func TestListTanksOwnership(t *testing.T) {
	svc, _ := newSubscriptionFixture()

	if _, err := svc.SaveTank(context.Background(), userClaims(7), 0, TankRequest{DeviceID: "dev-1"}); err != nil {
		t.Fatal(err)
	}

	tanks, err := svc.ListTanks(context.Background(), userClaims(7), 7)
	if err != nil || len(tanks) != 1 {
		t.Errorf("tanks = %v, err = %v", tanks, err)
	}
	if _, err := svc.ListTanks(context.Background(), userClaims(8), 7); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign list err = %v, want ErrForbidden", err)
	}
}
