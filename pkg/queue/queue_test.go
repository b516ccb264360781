package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_WrapsPayload(t *testing.T) {
	p := TranscriptArchivePayload{SessionID: uuid.New(), SellerID: "s1"}
	job, err := NewJob(JobTypeTranscriptArchive, p)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)
	assert.Equal(t, JobTypeTranscriptArchive, job.Type)

	var got TranscriptArchivePayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, p, got)
}
