// Package natsfeed implements types.FeedStoreClient over a JetStream
// stream, where each partition is one subject under the stream and the
// continuation token is the stream sequence number to resume after.
//
// JetStream streams do not natively reshard, so ChildPartitions always
// returns none: splits are a property of the monitored store being
// emulated, not of this reference transport, and a host that needs split
// behavior in tests should use internal/memfeed instead.
package natsfeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/feedflow/cfp/internal/types"
)

// Store implements types.FeedStoreClient over a jetstream.Stream whose
// partitions are its subjects.
type Store struct {
	js     jetstream.JetStream
	stream jetstream.Stream
}

var (
	_ types.FeedStoreClient       = (*Store)(nil)
	_ types.StartPositionResolver = (*Store)(nil)
)

// New wraps an already-created stream as a FeedStoreClient.
func New(js jetstream.JetStream, stream jetstream.Stream) *Store {
	return &Store{js: js, stream: stream}
}

// ListPartitions returns up to maxBatchSize subjects starting after
// pageToken. JetStream's stream info returns the full subject list in one
// round trip, so paging happens client-side over that list rather than
// against the server; the page contract is still honored so callers behave
// identically against a future backend that does paginate server-side.
func (s *Store) ListPartitions(ctx context.Context, pageToken string, maxBatchSize int) ([]types.Partition, string, error) {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("stream info: %w", err)
	}

	all := make([]types.Partition, 0, len(info.Config.Subjects))
	for _, subject := range info.Config.Subjects {
		all = append(all, types.Partition{
			ID:    subject,
			Range: types.PartitionRange{Min: subject, Max: subject},
		})
	}

	offset := 0
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid page token %q", types.ErrFatal, pageToken)
		}
		offset = parsed
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	if offset >= len(all) {
		return nil, "", nil
	}

	end := offset + maxBatchSize
	if end >= len(all) {
		return all[offset:], "", nil
	}
	return all[offset:end], strconv.Itoa(end), nil
}

// ResolveStartTime finds the sequence at which subject p.ID first has a
// message at or after at, via an ephemeral start-time-filtered consumer,
// and returns the token that resumes just before it. If no such message
// exists, it returns the stream's current last sequence, so reading resumes
// from "now" rather than replaying the whole backlog.
func (s *Store) ResolveStartTime(ctx context.Context, p types.Partition, at time.Time) (string, error) {
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: p.ID,
		DeliverPolicy: jetstream.DeliverByStartTimePolicy,
		OptStartTime:  &at,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return "", fmt.Errorf("create start-time consumer for %s: %w", p.ID, err)
	}
	defer func() { _ = s.stream.DeleteConsumer(ctx, consumer.CachedInfo().Name) }()

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return "", fmt.Errorf("fetch start-time probe for %s: %w", p.ID, err)
	}

	for msg := range msgs.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		if meta.Sequence.Stream == 0 {
			return "", nil
		}
		return strconv.FormatUint(meta.Sequence.Stream-1, 10), nil
	}
	// No message found at or after at (either none exist, or the fetch
	// simply timed out waiting): fall back to the stream's current end, so
	// reading resumes from "now" instead of replaying the whole backlog.

	info, err := s.stream.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("stream info: %w", err)
	}
	return strconv.FormatUint(info.State.LastSeq, 10), nil
}

func (s *Store) ReadChanges(ctx context.Context, p types.Partition, fromToken string, maxItemCount int) (types.ChangeBatch, types.FeedSignal, time.Duration, error) {
	startSeq := uint64(1)
	if fromToken != "" {
		parsed, err := strconv.ParseUint(fromToken, 10, 64)
		if err != nil {
			return types.ChangeBatch{}, types.FeedFatal, 0, fmt.Errorf("%w: invalid continuation token %q", types.ErrFatal, fromToken)
		}
		startSeq = parsed + 1
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: p.ID,
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   startSeq,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return types.ChangeBatch{}, types.FeedFatal, 0, fmt.Errorf("%w: create consumer for %s: %v", types.ErrFatal, p.ID, err)
	}

	if maxItemCount <= 0 {
		maxItemCount = 100
	}

	msgs, err := consumer.Fetch(maxItemCount, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return types.ChangeBatch{}, types.FeedThrottled, time.Second, nil
	}

	batch := types.ChangeBatch{PartitionID: p.ID, NextToken: fromToken}
	lastSeq := startSeq - 1
	for msg := range msgs.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		batch.Records = append(batch.Records, types.ChangeRecord{
			Payload:     msg.Data(),
			Token:       strconv.FormatUint(meta.Sequence.Stream, 10),
			PartitionID: p.ID,
		})
		lastSeq = meta.Sequence.Stream
	}
	if err := msgs.Error(); err != nil {
		return types.ChangeBatch{}, types.FeedThrottled, time.Second, nil
	}

	batch.NextToken = strconv.FormatUint(lastSeq, 10)

	if len(batch.Records) == 0 {
		return batch, types.FeedNotModified, 0, nil
	}

	return batch, types.FeedOK, 0, nil
}

func (s *Store) ChildPartitions(ctx context.Context, parent types.Partition) ([]types.Partition, error) {
	return nil, nil
}
