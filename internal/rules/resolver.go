package rules

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
)

const defaultMemoSize = 256

// Resolver finds the default result rule of a case. Lookups are memoised;
// the table never changes after load so entries never go stale.
type Resolver struct {
	cache  *Cache
	memo   *lru.Cache[string, int]
	logger *logrus.Logger
}

// NewResolver creates a resolver over the cached table. size bounds the memo.
func NewResolver(cache *Cache, size int, logger *logrus.Logger) (*Resolver, error) {
	if size <= 0 {
		size = defaultMemoSize
	}
	memo, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule memo: %w", err)
	}
	return &Resolver{cache: cache, memo: memo, logger: logger}, nil
}

// Resolve returns the first rule matching the tuple, or a *domain.SoftMiss.
func (r *Resolver) Resolve(recordType, source string, confirmatoryTested bool, sampEventAsses string) (*Rule, error) {
	table := r.cache.Table()
	key := memoKey(recordType, source, confirmatoryTested, sampEventAsses)

	if idx, ok := r.memo.Get(key); ok {
		if idx < 0 {
			return nil, miss(recordType, source, confirmatoryTested, sampEventAsses)
		}
		return &table[idx], nil
	}

	for i := range table {
		if table[i].Matches(recordType, source, confirmatoryTested, sampEventAsses) {
			r.memo.Add(key, i)
			return &table[i], nil
		}
	}

	r.memo.Add(key, -1)
	err := miss(recordType, source, confirmatoryTested, sampEventAsses)
	r.logger.WithFields(logrus.Fields{
		"record_type":         recordType,
		"source":              source,
		"confirmatory_tested": confirmatoryTested,
		"samp_event_asses":    sampEventAsses,
	}).Warn("No default result rule found")
	return nil, err
}

func miss(recordType, source string, confirmatoryTested bool, sampEventAsses string) *domain.SoftMiss {
	return &domain.SoftMiss{
		What: "default result rule",
		Query: map[string]string{
			HeaderRecordType:   recordType,
			HeaderSource:       source,
			HeaderConfirmatory: strconv.FormatBool(confirmatoryTested),
			HeaderSampEvent:    sampEventAsses,
		},
	}
}

func memoKey(recordType, source string, confirmatoryTested bool, sampEventAsses string) string {
	return recordType + "\x00" + source + "\x00" + strconv.FormatBool(confirmatoryTested) + "\x00" + sampEventAsses
}
