package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/paper-batch/internal/pdf"
)

const (
	jobKeyPrefix   = "job:"
	itemsKeySuffix = ":items"
	maxTxRetries   = 16
	txRetryBackoff = 5 * time.Millisecond
)

// ErrRecordNotFound は更新対象のジョブレコードが存在しない場合に返されます。
var ErrRecordNotFound = errors.New("jobs: record not found")

// Store はジョブ状態を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil, nil を返します。
// バッチ内の各ジョブの結果は別キーのリストから読み込みます。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}

	raw, err := s.rdb.LRange(ctx, itemsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]pdf.ItemOutcome, 0, len(raw))
	for _, v := range raw {
		var item pdf.ItemOutcome
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
	}
	attachItems(&record, items)
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	stored := *record
	stored.Items = nil
	payload, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// MarkRunning は実行開始を記録し、前回までのジョブ結果を破棄します。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	if err := s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusRunning
		record.Progress = ProgressInfo{Stage: "load"}
		record.Summary = Summary{}
	}); err != nil {
		return err
	}
	return s.rdb.Del(ctx, itemsKey(jobID)).Err()
}

// UpdateProgress は進捗を更新します。完了済みのジョブは更新しません。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		if record.Finished() {
			return
		}
		record.Progress = progress
	})
}

// RecordItem はバッチ内の1ジョブの完了を記録します。
// 各ジョブのコールバックは並行に呼ばれるため、レコード本体ではなくリストへ RPUSH します。
func (s *Store) RecordItem(ctx context.Context, jobID string, item pdf.ItemOutcome) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	key := itemsKey(jobID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

// MarkDone はジョブ完了時の情報を保存します。失敗したジョブを含む場合は partial になります。
func (s *Store) MarkDone(ctx context.Context, jobID string, downloadURL string, meta *pdf.BatchMeta) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		applyDone(record, downloadURL, meta)
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// updatePartial は WATCH/MULTI でレコードを読み替えます。
// 並行に更新された場合はトランザクションを再試行します。
func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%s: %w", jobID, ErrRecordNotFound)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.Items = nil
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := sleepBackoff(ctx, i); err != nil {
			return err
		}
	}
	return fmt.Errorf("job %s: too many concurrent updates: %w", jobID, redis.TxFailedErr)
}

// sleepBackoff は再試行回数に応じたジッター付きの待機を行います。
func sleepBackoff(ctx context.Context, attempt int) error {
	base := txRetryBackoff << min(attempt, 6)
	wait := base/2 + rand.N(base)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func itemsKey(id string) string {
	return jobKeyPrefix + id + itemsKeySuffix
}
