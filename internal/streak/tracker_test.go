package streak

import (
	"testing"

	"github.com/sharplee/signalcore/internal/model"
)

func key() model.Key { return model.Key{Instrument: "BTC-PERP", Timeframe: model.TF5m} }

func TestTracker_MonotoneTrailingSuffix(t *testing.T) {
	// spec.md §8 law: final streak equals the signed run-length of the
	// longest trailing same-kind suffix.
	tr := New()
	k := key()
	outcomes := []model.Outcome{model.OutcomeTP, model.OutcomeTP, model.OutcomeSL, model.OutcomeSL, model.OutcomeSL}
	var last model.StreakState
	for _, o := range outcomes {
		last = tr.Record(k, o)
	}
	if last.Streak != -3 {
		t.Errorf("expected streak -3 (trailing 3 SLs), got %d", last.Streak)
	}
	if last.Wins != 2 || last.Losses != 3 {
		t.Errorf("expected wins=2 losses=3, got wins=%d losses=%d", last.Wins, last.Losses)
	}
}

func TestTracker_SLAfterPositiveStreakBecomesNegativeOne(t *testing.T) {
	// spec.md §8 boundary case: streak transitioning from +1 on an SL becomes
	// -1, not 0.
	tr := New()
	k := key()
	tr.Record(k, model.OutcomeTP)
	s := tr.Record(k, model.OutcomeSL)
	if s.Streak != -1 {
		t.Errorf("expected streak -1, got %d", s.Streak)
	}
}

func TestTracker_LoadAllResumesFromPersistedState(t *testing.T) {
	tr := New()
	k := key()
	tr.LoadAll(map[model.Key]model.StreakState{k: {Streak: 4, Wins: 4, Losses: 0}})
	if tr.Get(k) != 4 {
		t.Errorf("expected resumed streak 4, got %d", tr.Get(k))
	}
	s := tr.Record(k, model.OutcomeTP)
	if s.Streak != 5 {
		t.Errorf("expected streak to continue incrementing from resumed state, got %d", s.Streak)
	}
}

func TestTracker_UnknownKeyStartsAtZero(t *testing.T) {
	tr := New()
	if tr.Get(key()) != 0 {
		t.Error("expected unknown key to have zero streak")
	}
}
