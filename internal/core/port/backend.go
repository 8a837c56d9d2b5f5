package port

import (
	"context"

	"github.com/skillgate/roomkit/internal/core/domain"
)

// RoomDirectory is the backend lookup consulted before joining. It is
// not part of the negotiation itself.
type RoomDirectory interface {
	GetRoom(ctx context.Context, code domain.RoomCode) (domain.RoomMetadata, error)
}

// ChallengeSink receives finalized integrity reports for scoring/review.
type ChallengeSink interface {
	SubmitIntegrityReport(ctx context.Context, challengeID, attemptID string, report domain.IntegrityReport) error
}

// RecordingSink receives uploaded recording segments after a stop.
type RecordingSink interface {
	UploadRecording(ctx context.Context, room domain.RoomCode, segments []RecordingSegment) error
}
