package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/pkg/queue"
)

type fakeRecordingStore struct {
	recordings    map[uuid.UUID]*models.Recording
	statusWrites  int
	s3ResultCalls int
}

func (f *fakeRecordingStore) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	return f.recordings[id], nil
}

func (f *fakeRecordingStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	f.statusWrites++
	if rec := f.recordings[id]; rec != nil {
		rec.Status = status
	}
	return nil
}

func (f *fakeRecordingStore) UpdateS3Result(_ context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64, durationSeconds int) error {
	f.s3ResultCalls++
	return nil
}

func uploadJob(t *testing.T, recID, sessionID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.RecordingUploadPayload{
		RecordingID: recID,
		SessionID:   sessionID,
		OriginURL:   "https://origin.example.com/archive.mp4",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{ID: "job-1", Type: queue.JobTypeRecordingUpload, Payload: payload}
}

// A job that exhausts its retries must leave the recording in failed, not
// stuck in processing.
func TestMarkFailedAfterRetriesExhausted(t *testing.T) {
	recID, sessionID := uuid.New(), uuid.New()
	store := &fakeRecordingStore{recordings: map[uuid.UUID]*models.Recording{
		recID: {ID: recID, SessionID: sessionID, Status: models.RecordingStatusProcessing},
	}}
	p := NewRecordingProcessor(store, nil, nil, nil)

	p.markFailed(context.Background(), uploadJob(t, recID, sessionID))

	if got := store.recordings[recID].Status; got != models.RecordingStatusFailed {
		t.Errorf("recording status = %s, want %s", got, models.RecordingStatusFailed)
	}
}

func TestMarkFailedIgnoresOtherJobTypes(t *testing.T) {
	store := &fakeRecordingStore{recordings: map[uuid.UUID]*models.Recording{}}
	p := NewRecordingProcessor(store, nil, nil, nil)

	p.markFailed(context.Background(), &queue.Job{ID: "job-2", Type: "email_digest"})
	p.markFailed(context.Background(), &queue.Job{ID: "job-3", Type: queue.JobTypeRecordingUpload, Payload: []byte("{")})

	if store.statusWrites != 0 {
		t.Errorf("status writes = %d, want 0", store.statusWrites)
	}
}

// A re-delivered job for an already completed recording is a no-op.
func TestProcessSkipsCompletedRecording(t *testing.T) {
	recID, sessionID := uuid.New(), uuid.New()
	store := &fakeRecordingStore{recordings: map[uuid.UUID]*models.Recording{
		recID: {ID: recID, SessionID: sessionID, Status: models.RecordingStatusCompleted},
	}}
	p := NewRecordingProcessor(store, nil, nil, nil)

	if err := p.Process(context.Background(), uploadJob(t, recID, sessionID)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.s3ResultCalls != 0 {
		t.Errorf("s3 result writes = %d, want 0", store.s3ResultCalls)
	}
	if got := store.recordings[recID].Status; got != models.RecordingStatusCompleted {
		t.Errorf("recording status = %s, want %s", got, models.RecordingStatusCompleted)
	}
}
