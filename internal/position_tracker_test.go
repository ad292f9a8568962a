package internal

import (
	"context"
	"testing"

	"github.com/xKoRx/mirror/domain"
)

func newTrackerFixture() (*PositionTracker, *MultiplierService, *fakeBroker, *fakeNotifier) {
	master := newFakeBroker()
	multipliers := NewMultiplierService(newMemMultiplierRepo(), nil)
	notifier := &fakeNotifier{}
	sessions := &fakeSessionProvider{
		master:    master,
		followers: map[string]domain.BrokerClient{},
	}
	tracker := NewPositionTracker(sessions, multipliers, notifier, nil)
	return tracker, multipliers, master, notifier
}

func TestPositionOpenedInfersMultiplier(t *testing.T) {
	tracker, multipliers, master, notifier := newTrackerFixture()
	master.setPosition(&domain.Position{Symbol: "AAPL", Side: domain.PositionSideLong, Quantity: 1000})

	tracker.OnFollowerPositionOpened(context.Background(), "f1", "AAPL", 250)

	mult, source := multipliers.Effective("f1", "AAPL")
	if mult != 0.25 || source != domain.MultiplierSourceAutoInferred {
		t.Fatalf("expected inferred 0.25, got %f (%s)", mult, source)
	}
	if len(notifier.eventsOfType("multiplier_inferred")) != 1 {
		t.Fatalf("expected multiplier_inferred notification")
	}
}

func TestPositionOpenedWithoutMasterPositionIsNoop(t *testing.T) {
	tracker, multipliers, _, notifier := newTrackerFixture()

	tracker.OnFollowerPositionOpened(context.Background(), "f1", "AAPL", 250)

	if _, source := multipliers.Effective("f1", "AAPL"); source != domain.MultiplierSourceBase {
		t.Fatalf("no inference expected without master position")
	}
	if len(notifier.events) != 0 {
		t.Fatalf("no notifications expected, got %+v", notifier.events)
	}
}

func TestPositionOpenedKeepsUserOverride(t *testing.T) {
	tracker, multipliers, master, notifier := newTrackerFixture()
	master.setPosition(&domain.Position{Symbol: "AAPL", Side: domain.PositionSideLong, Quantity: 1000})
	if err := multipliers.SetSymbolOverride(context.Background(), "f1", "AAPL", 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracker.OnFollowerPositionOpened(context.Background(), "f1", "AAPL", 250)

	mult, source := multipliers.Effective("f1", "AAPL")
	if mult != 0.5 || source != domain.MultiplierSourceUserOverride {
		t.Fatalf("user override must survive inference, got %f (%s)", mult, source)
	}
	if len(notifier.eventsOfType("multiplier_inferred")) != 0 {
		t.Fatalf("no notification expected when override wins")
	}
}

func TestSnapshotSkipsStoppedClients(t *testing.T) {
	tracker, _, master, _ := newTrackerFixture()
	master.setPosition(&domain.Position{Symbol: "AAPL", Side: domain.PositionSideLong, Quantity: 100})
	master.setRunning(false)

	snapshot := tracker.Snapshot()
	if snapshot["master"] != nil {
		positions, ok := snapshot["master"].([]map[string]interface{})
		if !ok || positions != nil {
			t.Fatalf("stopped master must produce nil positions, got %+v", snapshot["master"])
		}
	}
}

func TestSnapshotIncludesFollowerPositions(t *testing.T) {
	master := newFakeBroker()
	follower := newFakeBroker()
	follower.setPosition(&domain.Position{Symbol: "TSLA", Side: domain.PositionSideShort, Quantity: 50})
	multipliers := NewMultiplierService(newMemMultiplierRepo(), nil)
	sessions := &fakeSessionProvider{
		master:    master,
		followers: map[string]domain.BrokerClient{"f1": follower},
	}
	tracker := NewPositionTracker(sessions, multipliers, &fakeNotifier{}, nil)

	snapshot := tracker.Snapshot()
	followers, ok := snapshot["followers"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected followers map, got %T", snapshot["followers"])
	}
	positions, ok := followers["f1"].([]map[string]interface{})
	if !ok || len(positions) != 1 {
		t.Fatalf("expected 1 follower position, got %+v", followers["f1"])
	}
	if positions[0]["symbol"] != "TSLA" || positions[0]["quantity"] != 50 {
		t.Fatalf("unexpected position payload: %+v", positions[0])
	}
}
