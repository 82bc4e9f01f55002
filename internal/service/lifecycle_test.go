package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
)

// sentReport persists a report ready to be sent.
func (f *fixture) sentReport(t *testing.T, senderID, version string) *domain.Report {
	t.Helper()
	r := domain.NewReport()
	r.SenderID = senderID
	r.Version = version
	r.Status = domain.StatusLocallyValidated
	r.DcCode = "TSE.TEST"
	r.Country = "FR"
	r.Year = "2017"
	r.Month = "5"
	require.NoError(t, f.store.Add(f.ctx, r))
	return r
}

func (f *fixture) reload(t *testing.T, id int64) *domain.Report {
	t.Helper()
	r, err := f.lifecycle.getReport(f.ctx, id)
	require.NoError(t, err)
	return r
}

func TestLifecycleService_AggregationFlow(t *testing.T) {
	f := newFixture(t)
	r1 := f.sentReport(t, "FR1705", "01")
	r2 := f.sentReport(t, "FR1706", "02")

	aggregator, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r1, r2})
	require.NoError(t, err)
	assert.True(t, aggregator.IsAggregator())
	assert.Equal(t, "FR1705_AGGR", aggregator.SenderID)
	assert.Equal(t, "02", aggregator.Version, "the aggregator takes the highest member version")
	assert.Equal(t, domain.StatusUploaded, aggregator.Status)
	assert.Equal(t, "MSG-1", aggregator.MessageID)

	for _, id := range []int64{r1.RecordID(), r2.RecordID()} {
		m := f.reload(t, id)
		assert.Equal(t, domain.StatusUploaded, m.Status)
		require.True(t, m.IsAggregated())
		assert.Equal(t, aggregator.RecordID(), *m.AggregatorID)
	}

	members, err := f.lifecycle.Members(f.ctx, aggregator)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// the collection system validates the aggregated dataset
	f.gateway.setStatus("FR1705_AGGR.02", domain.StatusValid)
	refreshed, err := f.lifecycle.RefreshStatus(f.ctx, f.reload(t, r1.RecordID()))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, refreshed.Status)
	assert.Equal(t, domain.StatusValid, f.reload(t, r2.RecordID()).Status, "every member follows the aggregator")
	agg := f.reload(t, aggregator.RecordID())
	assert.Equal(t, domain.StatusValid, agg.Status)
	assert.NotEmpty(t, agg.DatasetID)

	submitted, err := f.lifecycle.SubmitAggregate(f.ctx, []*domain.Report{f.reload(t, r1.RecordID()), f.reload(t, r2.RecordID())})
	require.NoError(t, err)
	assert.Equal(t, aggregator.RecordID(), submitted.RecordID(), "aggregated reports are submitted through the aggregator")
	assert.Equal(t, domain.StatusSubmitted, f.reload(t, r1.RecordID()).Status)
	assert.Equal(t, domain.StatusSubmitted, f.reload(t, r2.RecordID()).Status)

	// acceptance dissolves the aggregator
	f.gateway.setStatus("FR1705_AGGR.02", domain.StatusAcceptedDWH)
	refreshed, err = f.lifecycle.RefreshStatus(f.ctx, f.reload(t, r2.RecordID()))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAcceptedDWH, refreshed.Status)
	assert.False(t, refreshed.IsAggregated())

	m1 := f.reload(t, r1.RecordID())
	assert.Equal(t, domain.StatusAcceptedDWH, m1.Status)
	assert.False(t, m1.IsAggregated())

	_, err = f.store.GetByID(f.ctx, domain.KindReport, aggregator.RecordID())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, f.gateway.sent, 2)
	assert.Equal(t, domain.OpReplace, f.gateway.sent[0].op)
	assert.Equal(t, domain.OpSubmit, f.gateway.sent[1].op)
}

func TestLifecycleService_RefreshScope(t *testing.T) {
	f := newFixture(t)
	r1 := f.sentReport(t, "FR1705", "01")
	r2 := f.sentReport(t, "FR1706", "02")
	single := f.sentReport(t, "FR1707", "01")

	ids, err := f.lifecycle.RefreshScope(f.ctx, single)
	require.NoError(t, err)
	assert.Equal(t, []int64{single.RecordID()}, ids)

	aggregator, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r1, r2})
	require.NoError(t, err)

	ids, err = f.lifecycle.RefreshScope(f.ctx, f.reload(t, r1.RecordID()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{r1.RecordID(), aggregator.RecordID(), r2.RecordID()}, ids)
	assert.Equal(t, r1.RecordID(), ids[0])

	ids, err = f.lifecycle.RefreshScope(f.ctx, aggregator)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{aggregator.RecordID(), r1.RecordID(), r2.RecordID()}, ids)
}

func TestLifecycleService_SendSingleReport(t *testing.T) {
	tests := []struct {
		name    string
		version string
		op      domain.Operation
	}{
		{"First version is inserted", "00", domain.OpInsert},
		{"Amendment replaces", "03", domain.OpReplace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.sentReport(t, "FR1705", tt.version)

			target, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
			require.NoError(t, err)
			assert.Equal(t, r.RecordID(), target.RecordID())
			assert.False(t, target.IsAggregated())

			stored := f.reload(t, r.RecordID())
			assert.Equal(t, domain.StatusUploaded, stored.Status)
			assert.Equal(t, "MSG-1", stored.MessageID)
			require.Len(t, f.gateway.sent, 1)
			assert.Equal(t, tt.op, f.gateway.sent[0].op)
		})
	}
}

func TestLifecycleService_SendRequiresLocalValidation(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")
	r.Status = domain.StatusDraft

	_, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
	require.Error(t, err)
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Empty(t, f.gateway.sent)

	_, err = f.lifecycle.SendAggregate(f.ctx, nil)
	assert.Error(t, err)
}

func TestLifecycleService_SendFailure(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")
	f.gateway.sendErr = errors.New("connection refused")

	_, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	stored := f.reload(t, r.RecordID())
	assert.Equal(t, domain.StatusUploadFailed, stored.Status)
	assert.Empty(t, stored.MessageID)
}

func TestLifecycleService_RefreshSingleReport(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")
	_, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
	require.NoError(t, err)

	f.gateway.setStatus("FR1705.00", domain.StatusRejectedEditable)
	refreshed, err := f.lifecycle.RefreshStatus(f.ctx, f.reload(t, r.RecordID()))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedEditable, refreshed.Status)
	assert.Equal(t, "DS-1", refreshed.DatasetID)
	assert.Equal(t, "MSG-1", refreshed.LastMessageID)

	// the dataset id is used once known
	f.gateway.setStatus("FR1705.00", domain.StatusValid)
	_, err = f.lifecycle.RefreshStatus(f.ctx, refreshed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, f.reload(t, r.RecordID()).Status)
}

func TestLifecycleService_RefreshUnknownDataset(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")

	_, err := f.lifecycle.RefreshStatus(f.ctx, r)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.StatusLocallyValidated, f.reload(t, r.RecordID()).Status)
}

func TestLifecycleService_RefreshMissingAggregator(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")
	_, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
	require.NoError(t, err)
	f.gateway.setStatus("FR1705.00", domain.StatusValid)

	stale := f.reload(t, r.RecordID())
	missing := int64(999)
	stale.AggregatorID = &missing
	require.NoError(t, f.store.Update(f.ctx, stale))

	refreshed, err := f.lifecycle.RefreshStatus(f.ctx, stale)
	require.NoError(t, err)
	assert.False(t, refreshed.IsAggregated())
	assert.Equal(t, domain.StatusValid, refreshed.Status)
	assert.False(t, f.reload(t, r.RecordID()).IsAggregated())
}

func TestLifecycleService_RefreshAsync(t *testing.T) {
	f := newFixture(t)
	r := f.sentReport(t, "FR1705", "00")
	_, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r})
	require.NoError(t, err)
	f.gateway.setStatus("FR1705.00", domain.StatusValidWithWarnings)

	var got *domain.Report
	var gotErr error
	done := f.lifecycle.RefreshAsync(f.ctx, f.reload(t, r.RecordID()), func(report *domain.Report, err error) {
		got, gotErr = report, err
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
	require.NoError(t, gotErr)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusValidWithWarnings, got.Status)
}

func TestLifecycleService_CreateAggregatedReport(t *testing.T) {
	t.Run("Reuses the live aggregator", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.sentReport(t, "FR1705", "01")
		r2 := f.sentReport(t, "FR1706", "01")

		first, err := f.lifecycle.CreateAggregatedReport(f.ctx, []*domain.Report{r1, r2})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusLocallyValidated, first.Status)
		assert.Equal(t, domain.ReportTypeCollectionAggregation, first.Type)

		second, err := f.lifecycle.CreateAggregatedReport(f.ctx, []*domain.Report{r2})
		require.NoError(t, err)
		assert.Equal(t, first.RecordID(), second.RecordID())
	})

	t.Run("Rejects mixed data collections", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.sentReport(t, "FR1705", "01")
		r2 := f.sentReport(t, "FR1706", "01")
		r2.DcCode = "TSE.OTHER"

		_, err := f.lifecycle.CreateAggregatedReport(f.ctx, []*domain.Report{r1, r2})
		assert.Error(t, err)
	})

	t.Run("Rejects first versions", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.sentReport(t, "FR1705", "00")

		_, err := f.lifecycle.CreateAggregatedReport(f.ctx, []*domain.Report{r1})
		assert.Error(t, err)
	})

	t.Run("Rejects empty input", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.lifecycle.CreateAggregatedReport(f.ctx, nil)
		assert.Error(t, err)
	})
}

func TestLifecycleService_AmendableReports(t *testing.T) {
	t.Run("Without aggregator", func(t *testing.T) {
		f := newFixture(t)
		sent := f.sentReport(t, "FR1705", "01")
		f.sentReport(t, "FR1706", "00")
		draft := f.sentReport(t, "FR1707", "01")
		draft.Status = domain.StatusDraft
		require.NoError(t, f.store.Update(f.ctx, draft))
		done := f.sentReport(t, "FR1708", "01")
		done.Status = domain.StatusAcceptedDWH
		require.NoError(t, f.store.Update(f.ctx, done))

		reports, aggregator, err := f.lifecycle.AmendableReports(f.ctx, "TSE.TEST")
		require.NoError(t, err)
		assert.Nil(t, aggregator)
		require.Len(t, reports, 1)
		assert.Equal(t, sent.RecordID(), reports[0].RecordID())
	})

	t.Run("With aggregator", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.sentReport(t, "FR1705", "01")
		r2 := f.sentReport(t, "FR1706", "01")
		f.sentReport(t, "FR1707", "01")
		sent, err := f.lifecycle.SendAggregate(f.ctx, []*domain.Report{r1, r2})
		require.NoError(t, err)

		reports, aggregator, err := f.lifecycle.AmendableReports(f.ctx, "TSE.TEST")
		require.NoError(t, err)
		require.NotNil(t, aggregator)
		assert.Equal(t, sent.RecordID(), aggregator.RecordID())
		assert.Len(t, reports, 2, "only the members of the aggregator")
	})
}

func TestLifecyclePredicates(t *testing.T) {
	report := func(s domain.Status) *domain.Report {
		r := domain.NewReport()
		r.Status = s
		return r
	}

	assert.False(t, CanAllBeSent(nil))
	assert.True(t, CanAllBeSent([]*domain.Report{report(domain.StatusLocallyValidated)}))
	assert.False(t, CanAllBeSent([]*domain.Report{report(domain.StatusLocallyValidated), report(domain.StatusDraft)}))

	assert.False(t, CanAllBeSubmitted(nil))
	assert.True(t, CanAllBeSubmitted([]*domain.Report{report(domain.StatusValid), report(domain.StatusValidWithWarnings)}))
	assert.False(t, CanAllBeSubmitted([]*domain.Report{report(domain.StatusValid), report(domain.StatusRejected)}))

	assert.False(t, CanRefresh([]*domain.Report{report(domain.StatusDraft), report(domain.StatusLocallyValidated)}))
	assert.True(t, CanRefresh([]*domain.Report{report(domain.StatusDraft), report(domain.StatusUploaded)}))
}
