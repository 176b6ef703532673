package history

import (
	"context"
	"sort"
	"time"

	"pdu-bridge/internal/domain"
)

// bucketFor picks the bucket width and max-point cap from the range
// width, per the downsampling table: the first row whose "Range <="
// bound admits the requested span.
func bucketFor(span time.Duration) (bucket time.Duration, maxPoints int) {
	switch {
	case span <= time.Hour:
		return time.Second, 3600
	case span <= 6*time.Hour:
		return 10 * time.Second, 2160
	case span <= 24*time.Hour:
		return 60 * time.Second, 1440
	case span <= 7*24*time.Hour:
		return 300 * time.Second, 2016
	case span <= 30*24*time.Hour:
		return 900 * time.Second, 2880
	default:
		return 1800 * time.Second, 2880
	}
}

// QueryBanks returns downsampled bank buckets ordered by
// (bucket, bank). Numeric fields are averaged within a bucket.
func (s *Store) QueryBanks(ctx context.Context, deviceID string, start, end time.Time) ([]domain.Bucket, error) {
	rows, err := s.RawBankSamples(ctx, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	bucket, _ := bucketFor(end.Sub(start))

	type accKey struct {
		bucketStart time.Time
		bank        int
	}
	type acc struct {
		voltage, current, power, apparent, pf float64
		n                                      int
	}
	accs := make(map[accKey]*acc)
	var order []accKey

	for _, r := range rows {
		k := accKey{bucketStart: r.Timestamp.Truncate(bucket), bank: r.Bank}
		a, ok := accs[k]
		if !ok {
			a = &acc{}
			accs[k] = a
			order = append(order, k)
		}
		a.voltage += r.Voltage
		a.current += r.Current
		a.power += r.Power
		a.apparent += r.Apparent
		a.pf += r.PF
		a.n++
	}

	out := make([]domain.Bucket, 0, len(order))
	for _, k := range order {
		a := accs[k]
		n := float64(a.n)
		out = append(out, domain.Bucket{
			BucketStart: k.bucketStart,
			Key:         k.bank,
			Voltage:     a.voltage / n,
			Current:     a.current / n,
			Power:       a.power / n,
			Apparent:    a.apparent / n,
			PF:          a.pf / n,
			SampleSize:  a.n,
		})
	}
	sortBuckets(out)
	return out, nil
}

// QueryOutlets returns downsampled outlet buckets. Numeric fields are
// averaged; state is the bucket's last value.
func (s *Store) QueryOutlets(ctx context.Context, deviceID string, start, end time.Time) ([]domain.Bucket, error) {
	rows, err := s.RawOutletSamples(ctx, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	bucket, _ := bucketFor(end.Sub(start))

	type accKey struct {
		bucketStart time.Time
		outlet      int
	}
	type acc struct {
		current, power float64
		n              int
		lastState      domain.OutletState
		lastTS         time.Time
	}
	accs := make(map[accKey]*acc)
	var order []accKey

	for _, r := range rows {
		k := accKey{bucketStart: r.Timestamp.Truncate(bucket), outlet: r.Outlet}
		a, ok := accs[k]
		if !ok {
			a = &acc{}
			accs[k] = a
			order = append(order, k)
		}
		if r.Current != nil {
			a.current += *r.Current
		}
		if r.Power != nil {
			a.power += *r.Power
		}
		a.n++
		if r.Timestamp.After(a.lastTS) {
			a.lastState = r.State
			a.lastTS = r.Timestamp
		}
	}

	out := make([]domain.Bucket, 0, len(order))
	for _, k := range order {
		a := accs[k]
		n := float64(a.n)
		out = append(out, domain.Bucket{
			BucketStart: k.bucketStart,
			Key:         k.outlet,
			Current:     a.current / n,
			Power:       a.power / n,
			State:       a.lastState,
			SampleSize:  a.n,
		})
	}
	sortBuckets(out)
	return out, nil
}

// sortBuckets orders by (bucket, key), matching the contract's
// "ordered by (bucket, bank|outlet)".
func sortBuckets(buckets []domain.Bucket) {
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		return a.Key < b.Key
	})
}
