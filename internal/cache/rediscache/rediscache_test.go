package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
)

func TestATRHistory_AppendTrimsRingOnRedis(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewATRHistory(client, 3, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	mock.MatchExpectationsInOrder(false)
	mock.ExpectTxPipeline()
	mock.ExpectRPush(atrRedisKey(key), "1.5").SetVal(1)
	mock.ExpectLTrim(atrRedisKey(key), -3, -1).SetVal("OK")
	mock.ExpectTxPipelineExec()

	c.Append(context.Background(), key, 1.5)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestATRHistory_LoadParsesCachedValues(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewATRHistory(client, 10, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	mock.ExpectLRange(atrRedisKey(key), 0, -1).SetVal([]string{"1.1", "1.2", "1.3"})

	values, ok, err := c.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a populated key")
	}
	if len(values) != 3 || values[1] != 1.2 {
		t.Fatalf("unexpected values: %v", values)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestATRHistory_LoadEmptyKeyReturnsNotOK(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewATRHistory(client, 10, zerolog.Nop())
	key := model.Key{Instrument: "ETH-PERP", Timeframe: model.TF5m}

	mock.ExpectLRange(atrRedisKey(key), 0, -1).SetVal([]string{})

	values, ok, err := c.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || values != nil {
		t.Fatalf("expected a cold key to report ok=false, got ok=%v values=%v", ok, values)
	}
}

func TestATRHistory_DisabledClientIsNoop(t *testing.T) {
	c := NewATRHistory(nil, 10, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	c.Append(context.Background(), key, 1.0) // must not panic

	values, ok, err := c.Load(context.Background(), key)
	if err != nil || ok || values != nil {
		t.Fatalf("expected disabled cache to report ok=false with no error, got values=%v ok=%v err=%v", values, ok, err)
	}
}

func TestLockMirror_AcquireSetsKeyWithTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewLockMirror(client, time.Minute, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	mock.ExpectSet(lockRedisKey(key), "sig-1", time.Minute).SetVal("OK")

	m.Acquire(key, "sig-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestLockMirror_ReleaseDeletesKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewLockMirror(client, time.Minute, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	mock.ExpectDel(lockRedisKey(key)).SetVal(1)

	m.Release(key)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestLockMirror_DisabledClientIsNoop(t *testing.T) {
	m := NewLockMirror(nil, time.Minute, zerolog.Nop())
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}

	m.Acquire(key, "sig-1") // must not panic
	m.Release(key)          // must not panic
}
