package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/domain/model"
)

func fastRetrier(mirror *mockMirror) *application.MirrorRetrier {
	return application.NewMirrorRetrier(mirror, application.MirrorRetrierConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      200 * time.Millisecond,
		QueueSize:       1,
	}, nil)
}

func TestMirrorRetrier_ReplayRecord(t *testing.T) {
	mirror := newMockMirror()
	mirror.failUpserts = 2
	retrier := fastRetrier(mirror)

	rec := model.CredentialRecord{CredentialID: "0x01", HolderAddress: "0xA1"}
	err := retrier.Replay(context.Background(), &application.MirrorWriteError{CredentialID: "0x01", Record: &rec})
	require.NoError(t, err)

	assert.Equal(t, 1, mirror.count())
	assert.Equal(t, 3, mirror.upserts)
}

func TestMirrorRetrier_ReplayRevocation(t *testing.T) {
	mirror := seededMirror("0x01")
	retrier := fastRetrier(mirror)

	update := model.RevocationUpdate{RevokedAt: fixedNow, RevokeTxHash: "0xrevoke"}
	err := retrier.Replay(context.Background(), &application.MirrorWriteError{CredentialID: "0x01", Revocation: &update})
	require.NoError(t, err)

	rec, _ := mirror.get("0x01")
	assert.True(t, rec.IsRevoked)
	assert.Equal(t, "0xrevoke", rec.RevokeTxHash)
}

func TestMirrorRetrier_ReplayRevocationWithoutRecordIsPermanent(t *testing.T) {
	retrier := fastRetrier(newMockMirror())

	update := model.RevocationUpdate{RevokedAt: fixedNow, RevokeTxHash: "0xrevoke"}
	err := retrier.Replay(context.Background(), &application.MirrorWriteError{CredentialID: "0x01", Revocation: &update})

	var notFound *application.RecordNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "0x01", notFound.CredentialID)
}

func TestMirrorRetrier_GivesUpAfterMaxElapsed(t *testing.T) {
	mirror := newMockMirror()
	mirror.failUpserts = 1 << 20
	retrier := fastRetrier(mirror)

	rec := model.CredentialRecord{CredentialID: "0x01"}
	err := retrier.Replay(context.Background(), &application.MirrorWriteError{CredentialID: "0x01", Record: &rec})
	require.Error(t, err)
	assert.Equal(t, 0, mirror.count())
}

func TestMirrorRetrier_ScheduleWhenFull(t *testing.T) {
	retrier := fastRetrier(newMockMirror())

	rec := model.CredentialRecord{CredentialID: "0x01"}
	assert.True(t, retrier.Schedule(&application.MirrorWriteError{CredentialID: "0x01", Record: &rec}))
	assert.False(t, retrier.Schedule(&application.MirrorWriteError{CredentialID: "0x02", Record: &rec}))
	assert.Equal(t, 1, retrier.Pending())
}

func TestMirrorRetrier_PendingNeverNegative(t *testing.T) {
	mirror := newMockMirror()
	retrier := application.NewMirrorRetrier(mirror, application.MirrorRetrierConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		QueueSize:       4,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		retrier.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	stop := make(chan struct{})
	sampled := make(chan int, 1)
	go func() {
		lowest := 0
		for {
			select {
			case <-stop:
				sampled <- lowest
				return
			default:
				lowest = min(lowest, retrier.Pending())
			}
		}
	}()

	for i := range 200 {
		id := fmt.Sprintf("0x%02x", i)
		rec := model.CredentialRecord{CredentialID: id}
		retrier.Schedule(&application.MirrorWriteError{CredentialID: id, Record: &rec})
	}
	assert.Eventually(t, func() bool { return retrier.Pending() == 0 }, time.Second, time.Millisecond)

	close(stop)
	assert.GreaterOrEqual(t, <-sampled, 0)
}
