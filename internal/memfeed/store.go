// Package memfeed implements types.FeedStoreClient in memory, for
// deterministic tests of splits, throttling, and partition removal that
// would be awkward to reproduce against a live transport.
package memfeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/feedflow/cfp/internal/types"
)

// partitionState holds one partition's buffered records and simulated
// signal overrides.
type partitionState struct {
	records     []types.ChangeRecord
	recordTimes []time.Time
	gone        bool
	split       bool
	children    []types.Partition
	throttle    time.Duration
}

// Store is an in-memory FeedStoreClient. All partitions and records are
// set up directly via Seed/AppendRecords/TriggerSplit/RemovePartition
// rather than read from any real backend.
type Store struct {
	mu         sync.Mutex
	partitions map[string]types.Partition
	order      []string
	state      map[string]*partitionState
}

var (
	_ types.FeedStoreClient       = (*Store)(nil)
	_ types.StartPositionResolver = (*Store)(nil)
)

// New creates an empty in-memory feed store.
func New() *Store {
	return &Store{
		partitions: make(map[string]types.Partition),
		state:      make(map[string]*partitionState),
	}
}

// Seed registers a fixed list of partitions, replacing any existing state.
func (s *Store) Seed(partitions []types.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions = make(map[string]types.Partition, len(partitions))
	s.state = make(map[string]*partitionState, len(partitions))
	s.order = s.order[:0]
	for _, p := range partitions {
		s.partitions[p.ID] = p
		s.state[p.ID] = &partitionState{}
		s.order = append(s.order, p.ID)
	}
}

// AppendRecords appends change records to a partition's buffer, assigning
// sequential tokens and stamping each with the current time.
func (s *Store) AppendRecords(partitionID string, payloads ...[]byte) {
	s.AppendRecordsAt(partitionID, time.Now(), payloads...)
}

// AppendRecordsAt is AppendRecords with an explicit timestamp, for
// deterministic tests of ResolveStartTime.
func (s *Store) AppendRecordsAt(partitionID string, at time.Time, payloads ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[partitionID]
	if st == nil {
		st = &partitionState{}
		s.state[partitionID] = st
	}
	base := len(st.records)
	for i, payload := range payloads {
		st.records = append(st.records, types.ChangeRecord{
			Payload:     payload,
			Token:       strconv.Itoa(base + i + 1),
			PartitionID: partitionID,
		})
		st.recordTimes = append(st.recordTimes, at)
	}
}

// SetThrottle makes the next ReadChanges calls for partitionID report
// FeedThrottled with the given retry-after delay until cleared.
func (s *Store) SetThrottle(partitionID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state[partitionID]; st != nil {
		st.throttle = delay
	}
}

// ClearThrottle removes a previously set throttle.
func (s *Store) ClearThrottle(partitionID string) {
	s.SetThrottle(partitionID, 0)
}

// TriggerSplit marks partitionID as split into the given children. The
// next ReadChanges call for partitionID reports FeedPartitionGone.
func (s *Store) TriggerSplit(partitionID string, children ...types.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[partitionID]
	if st == nil {
		st = &partitionState{}
		s.state[partitionID] = st
	}
	st.split = true
	st.gone = true
	st.children = children

	for _, c := range children {
		if _, exists := s.partitions[c.ID]; !exists {
			s.partitions[c.ID] = c
			s.state[c.ID] = &partitionState{}
			s.order = append(s.order, c.ID)
		}
	}
}

// RemovePartition marks partitionID as gone without any children
// (simulating a merge, or external removal with no successor).
func (s *Store) RemovePartition(partitionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[partitionID]
	if st == nil {
		st = &partitionState{}
		s.state[partitionID] = st
	}
	st.gone = true
}

// ListPartitions returns up to maxBatchSize partitions starting after
// pageToken (an offset into the current, gone-filtered partition list,
// encoded as a decimal string).
func (s *Store) ListPartitions(ctx context.Context, pageToken string, maxBatchSize int) ([]types.Partition, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]types.Partition, 0, len(s.order))
	for _, id := range s.order {
		st := s.state[id]
		if st != nil && st.gone {
			continue
		}
		all = append(all, s.partitions[id])
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

// ResolveStartTime returns the token positioned at the first record
// appended at or after at, or a token past the end if none qualify.
func (s *Store) ResolveStartTime(ctx context.Context, p types.Partition, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[p.ID]
	if st == nil {
		return "", nil
	}
	for i, ts := range st.recordTimes {
		if !ts.Before(at) {
			return strconv.Itoa(i), nil
		}
	}
	return strconv.Itoa(len(st.records)), nil
}

func (s *Store) ReadChanges(ctx context.Context, p types.Partition, fromToken string, maxItemCount int) (types.ChangeBatch, types.FeedSignal, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[p.ID]
	if st == nil {
		return types.ChangeBatch{}, types.FeedPartitionGone, 0, nil
	}

	if st.gone {
		return types.ChangeBatch{}, types.FeedPartitionGone, 0, nil
	}

	if st.throttle > 0 {
		return types.ChangeBatch{}, types.FeedThrottled, st.throttle, nil
	}

	startIdx := 0
	if fromToken != "" {
		parsed, err := strconv.Atoi(fromToken)
		if err != nil {
			return types.ChangeBatch{}, types.FeedFatal, 0, fmt.Errorf("%w: invalid continuation token %q", types.ErrFatal, fromToken)
		}
		startIdx = parsed
	}

	if startIdx >= len(st.records) {
		return types.ChangeBatch{PartitionID: p.ID, NextToken: fromToken}, types.FeedNotModified, 0, nil
	}

	if maxItemCount <= 0 {
		maxItemCount = 100
	}

	end := startIdx + maxItemCount
	if end > len(st.records) {
		end = len(st.records)
	}

	records := make([]types.ChangeRecord, end-startIdx)
	copy(records, st.records[startIdx:end])

	return types.ChangeBatch{
		PartitionID: p.ID,
		Records:     records,
		NextToken:   strconv.Itoa(end),
	}, types.FeedOK, 0, nil
}

func (s *Store) ChildPartitions(ctx context.Context, parent types.Partition) ([]types.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[parent.ID]
	if st == nil {
		return nil, nil
	}
	children := make([]types.Partition, len(st.children))
	copy(children, st.children)
	return children, nil
}
