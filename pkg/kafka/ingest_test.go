package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
)

type fakeSubmitter struct {
	err  error
	reqs []models.IngestRequest
}

func (f *fakeSubmitter) Submit(_ context.Context, req models.IngestRequest) (models.IngestResponse, error) {
	if f.err != nil {
		return models.IngestResponse{}, f.err
	}
	f.reqs = append(f.reqs, req)
	return models.IngestResponse{JobID: int64(len(f.reqs)), RecordsSubmitted: len(req.Records)}, nil
}

func TestIngestHandler(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	ctx := context.Background()

	tests := []struct {
		name      string
		key       string
		value     string
		submitErr error
		wantErr   error
		wantFile  string
	}{
		{
			name:     "valid request",
			value:    `{"source_type":"census","file_name":"census_1920.json","records":[{"address":"Milwaukee"}]}`,
			wantFile: "census_1920.json",
		},
		{
			name:     "file name from key",
			key:      "obits.json",
			value:    `{"source_type":"obituary","records":[{"deceased_name":"Anna Weber"}]}`,
			wantFile: "obits.json",
		},
		{name: "not json", value: `{nope`, wantErr: ErrPoisonMessage},
		{name: "unknown source type", value: `{"source_type":"tax","file_name":"x","records":[{}]}`, wantErr: ErrPoisonMessage},
		{name: "no records", value: `{"source_type":"birth","file_name":"x","records":[]}`, wantErr: ErrPoisonMessage},
		{
			name:      "store outage is retried",
			value:     `{"source_type":"birth","file_name":"x","records":[{}]}`,
			submitErr: store.ErrUnavailable,
			wantErr:   store.ErrUnavailable,
		},
		{
			name:      "other submit errors are dropped",
			value:     `{"source_type":"birth","file_name":"x","records":[{}]}`,
			submitErr: errors.New("queue full"),
			wantErr:   ErrPoisonMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.submitErr}
			handler := NewIngestHandler(sub, validator.New(), logger)

			err := handler(ctx, &IncomingMessage{Key: tt.key, Value: []byte(tt.value)})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, sub.reqs, 1)
			assert.Equal(t, tt.wantFile, sub.reqs[0].FileName)
		})
	}
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafkago.Zstd, compressionCodec("zstd"))
	assert.Equal(t, kafkago.Snappy, compressionCodec(""))
}
