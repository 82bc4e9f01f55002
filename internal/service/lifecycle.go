package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/metrics"
)

// aggregatorSuffix marks the sender id of collection aggregators.
const aggregatorSuffix = "_AGGR"

// RefreshListener is told the outcome of an asynchronous refresh.
type RefreshListener func(report *domain.Report, err error)

// LifecycleService drives the remote lifecycle of reports: sending,
// submitting and refreshing their status, alone or grouped under a
// collection aggregator.
type LifecycleService struct {
	logger  *logrus.Logger
	store   domain.Store
	gateway domain.Gateway
	metrics *metrics.Metrics
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(logger *logrus.Logger, store domain.Store, gateway domain.Gateway, m *metrics.Metrics) *LifecycleService {
	return &LifecycleService{
		logger:  logger,
		store:   store,
		gateway: gateway,
		metrics: m,
	}
}

// RefreshStatus reloads the status of the report from the collection
// system. An aggregated report refreshes its aggregator instead; the
// aggregator status is then copied to every member. A finalized aggregator
// is dissolved. The returned report is the refreshed state of report.
func (s *LifecycleService) RefreshStatus(ctx context.Context, report *domain.Report) (*domain.Report, error) {
	start := time.Now()
	defer s.metrics.Observe("refresh", start)

	if report.IsAggregated() {
		aggregator, err := s.getReport(ctx, *report.AggregatorID)
		switch {
		case err == nil:
			if err := s.refreshAggregator(ctx, aggregator); err != nil {
				return nil, err
			}
			return s.getReport(ctx, report.RecordID())
		case errors.Is(err, domain.ErrNotFound):
			s.logger.WithFields(logrus.Fields{
				"report_id":     report.RecordID(),
				"aggregator_id": *report.AggregatorID,
			}).Warn("Aggregator not found, refreshing the report itself")
			report.AggregatorID = nil
		default:
			return nil, err
		}
	}

	if report.IsAggregator() {
		if err := s.refreshAggregator(ctx, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	if err := s.refreshOne(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// RefreshScope returns the ids of every report a refresh of report may
// change: the report, its aggregator and the aggregator's members.
func (s *LifecycleService) RefreshScope(ctx context.Context, report *domain.Report) ([]int64, error) {
	ids := []int64{report.RecordID()}

	var aggregator *domain.Report
	switch {
	case report.IsAggregator():
		aggregator = report
	case report.IsAggregated():
		agg, err := s.getReport(ctx, *report.AggregatorID)
		if errors.Is(err, domain.ErrNotFound) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		aggregator = agg
		ids = append(ids, agg.RecordID())
	default:
		return ids, nil
	}

	members, err := s.Members(ctx, aggregator)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.RecordID() != report.RecordID() {
			ids = append(ids, m.RecordID())
		}
	}
	return ids, nil
}

// RefreshAsync refreshes the report on a worker goroutine. The listener is
// called once when the refresh finishes; the returned channel is closed
// right after.
func (s *LifecycleService) RefreshAsync(ctx context.Context, report *domain.Report, listener RefreshListener) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		refreshed, err := s.RefreshStatus(ctx, report)
		if err != nil {
			s.logger.WithError(err).WithField("report_id", report.RecordID()).Error("Status refresh failed")
		}
		if listener != nil {
			listener(refreshed, err)
		}
	}()
	return done
}

func (s *LifecycleService) refreshAggregator(ctx context.Context, aggregator *domain.Report) error {
	if err := s.refreshOne(ctx, aggregator); err != nil {
		return err
	}

	members, err := s.Members(ctx, aggregator)
	if err != nil {
		return err
	}

	finalized := aggregator.Status.IsFinalized()
	for _, m := range members {
		m.Status = aggregator.Status
		if finalized {
			m.AggregatorID = nil
		}
		if err := s.store.Update(ctx, m); err != nil {
			return fmt.Errorf("failed to update aggregated report %d: %w", m.RecordID(), err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"aggregator_id": aggregator.RecordID(),
		"status":        aggregator.Status,
		"members":       len(members),
	}).Info("Aggregator status propagated")

	if finalized {
		if err := s.store.Delete(ctx, aggregator); err != nil {
			return fmt.Errorf("failed to delete finalized aggregator %d: %w", aggregator.RecordID(), err)
		}
		s.logger.WithField("aggregator_id", aggregator.RecordID()).Info("Finalized aggregator dissolved")
	}
	return nil
}

// refreshOne copies the remote dataset status and message ids into the report.
func (s *LifecycleService) refreshOne(ctx context.Context, report *domain.Report) error {
	dataset, err := s.findDataset(ctx, report)
	if err != nil {
		return err
	}

	previous := report.Status
	report.Status = dataset.Status
	report.DatasetID = dataset.ID
	report.LastMessageID = dataset.LastMessageID
	report.LastModifyingMessageID = dataset.LastModifyingMessageID
	report.LastValidationMessageID = dataset.LastValidationMessageID

	if err := s.store.Update(ctx, report); err != nil {
		return fmt.Errorf("failed to update report %d: %w", report.RecordID(), err)
	}
	s.metrics.Refreshed(string(report.Status))

	s.logger.WithFields(logrus.Fields{
		"report_id": report.RecordID(),
		"previous":  previous,
		"status":    report.Status,
	}).Info("Report status refreshed")
	return nil
}

func (s *LifecycleService) findDataset(ctx context.Context, report *domain.Report) (*domain.Dataset, error) {
	if report.DatasetID != "" {
		dataset, err := s.gateway.GetDataset(ctx, report.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("failed to get dataset %s: %w", report.DatasetID, err)
		}
		return dataset, nil
	}

	datasets, err := s.gateway.ListDatasets(ctx, report.DcCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets of %s: %w", report.DcCode, err)
	}
	want := report.SenderDatasetID()
	for i := range datasets {
		if datasets[i].SenderDatasetID == want {
			return &datasets[i], nil
		}
	}
	return nil, fmt.Errorf("dataset %s: %w", want, domain.ErrNotFound)
}

// Members returns the reports grouped under the aggregator.
func (s *LifecycleService) Members(ctx context.Context, aggregator *domain.Report) ([]*domain.Report, error) {
	recs, err := s.store.GetByStringField(ctx, domain.KindReport, domain.ColAggregatorID, strconv.FormatInt(aggregator.RecordID(), 10))
	if err != nil {
		return nil, fmt.Errorf("failed to load members of aggregator %d: %w", aggregator.RecordID(), err)
	}
	return toReports(recs), nil
}

// CreateAggregatedReport returns the aggregator that groups members,
// reusing a live aggregator of the same data collection if there is one.
func (s *LifecycleService) CreateAggregatedReport(ctx context.Context, members []*domain.Report) (*domain.Report, error) {
	if len(members) == 0 {
		return nil, domain.NewValidationError("reports", "no report to aggregate", nil)
	}
	dcCode := members[0].DcCode
	version := domain.FirstVersion
	for _, m := range members {
		if m.DcCode != dcCode {
			return nil, domain.NewValidationError("dcCode", "aggregated reports must share the data collection", m.DcCode)
		}
		if !domain.IsAmendment(m.Version) {
			return nil, domain.NewValidationError("version", "only amended reports can be aggregated", m.SenderDatasetID())
		}
		if domain.VersionNumber(m.Version) > domain.VersionNumber(version) {
			version = m.Version
		}
	}

	existing, err := s.liveAggregator(ctx, dcCode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.WithField("aggregator_id", existing.RecordID()).Info("Reusing collection aggregator")
		return existing, nil
	}

	first := members[0]
	aggregator := domain.NewReport()
	aggregator.Type = domain.ReportTypeCollectionAggregation
	aggregator.DcCode = dcCode
	aggregator.SenderID = first.SenderID + aggregatorSuffix
	aggregator.Country = first.Country
	aggregator.Year = first.Year
	aggregator.Month = first.Month
	aggregator.Version = version
	aggregator.Status = domain.StatusLocallyValidated

	if err := s.store.Add(ctx, aggregator); err != nil {
		return nil, fmt.Errorf("failed to add aggregator: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"aggregator_id": aggregator.RecordID(),
		"dc_code":       dcCode,
		"members":       len(members),
	}).Info("Collection aggregator created")
	return aggregator, nil
}

// liveAggregator finds the non finalized aggregator of the data collection.
func (s *LifecycleService) liveAggregator(ctx context.Context, dcCode string) (*domain.Report, error) {
	recs, err := s.store.GetByStringField(ctx, domain.KindReport, domain.ColDcCode, dcCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports of %s: %w", dcCode, err)
	}
	for _, r := range toReports(recs) {
		if r.IsAggregator() && domain.IsAmendment(r.Version) && !r.Status.IsFinalized() {
			return r, nil
		}
	}
	return nil, nil
}

// SendAggregate uploads the reports: a single report is sent as is, more
// than one are grouped under an aggregator which is sent in their place.
// Members take the status of what was sent.
func (s *LifecycleService) SendAggregate(ctx context.Context, reports []*domain.Report) (*domain.Report, error) {
	if !CanAllBeSent(reports) {
		return nil, domain.NewValidationError("status", "all reports must be locally validated", nil)
	}

	target := reports[0]
	if len(reports) > 1 {
		aggregator, err := s.CreateAggregatedReport(ctx, reports)
		if err != nil {
			return nil, err
		}
		target = aggregator
	}

	op := domain.OpInsert
	if target.DatasetID != "" || domain.IsAmendment(target.Version) {
		op = domain.OpReplace
	}

	messageID, sendErr := s.gateway.Send(ctx, target, op)
	if sendErr != nil {
		target.Status = domain.StatusUploadFailed
	} else {
		target.MessageID = messageID
		target.Status = domain.StatusUploaded
	}
	if err := s.store.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to update sent report %d: %w", target.RecordID(), err)
	}

	if target.IsAggregator() {
		id := target.RecordID()
		for _, m := range reports {
			m.Status = target.Status
			if sendErr == nil {
				m.AggregatorID = &id
			}
			if err := s.store.Update(ctx, m); err != nil {
				return nil, fmt.Errorf("failed to update aggregated report %d: %w", m.RecordID(), err)
			}
		}
	}

	if sendErr != nil {
		return target, fmt.Errorf("failed to send report %s: %w", target.SenderDatasetID(), sendErr)
	}
	s.logger.WithFields(logrus.Fields{
		"report_id":  target.RecordID(),
		"operation":  op,
		"message_id": messageID,
		"reports":    len(reports),
	}).Info("Reports sent")
	return target, nil
}

// SubmitAggregate submits the reports. Aggregated reports are submitted
// through their aggregator and take its resulting status.
func (s *LifecycleService) SubmitAggregate(ctx context.Context, reports []*domain.Report) (*domain.Report, error) {
	if !CanAllBeSubmitted(reports) {
		return nil, domain.NewValidationError("status", "all reports must be valid", nil)
	}

	target := reports[0]
	if target.IsAggregated() {
		aggregator, err := s.getReport(ctx, *target.AggregatorID)
		if err != nil {
			return nil, fmt.Errorf("failed to load aggregator: %w", err)
		}
		target = aggregator
	}

	messageID, err := s.gateway.Send(ctx, target, domain.OpSubmit)
	if err != nil {
		return nil, fmt.Errorf("failed to submit report %s: %w", target.SenderDatasetID(), err)
	}
	target.MessageID = messageID
	target.Status = domain.StatusSubmitted
	if err := s.store.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to update submitted report %d: %w", target.RecordID(), err)
	}

	members := reports
	if target.IsAggregator() {
		if members, err = s.Members(ctx, target); err != nil {
			return nil, err
		}
	}
	for _, m := range members {
		if m.RecordID() == target.RecordID() {
			continue
		}
		m.Status = target.Status
		if err := s.store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to update submitted report %d: %w", m.RecordID(), err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": target.RecordID(),
		"reports":   len(members),
	}).Info("Reports submitted")
	return target, nil
}

// AmendableReports lists the reports of the data collection that take part
// in a mass amendment: the members of the live aggregator when there is
// one, otherwise every sent, non finalized amendment. The aggregator is
// returned too, nil when there is none.
func (s *LifecycleService) AmendableReports(ctx context.Context, dcCode string) ([]*domain.Report, *domain.Report, error) {
	aggregator, err := s.liveAggregator(ctx, dcCode)
	if err != nil {
		return nil, nil, err
	}

	var candidates []*domain.Report
	if aggregator != nil {
		if candidates, err = s.Members(ctx, aggregator); err != nil {
			return nil, nil, err
		}
	} else {
		recs, err := s.store.GetByStringField(ctx, domain.KindReport, domain.ColDcCode, dcCode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load reports of %s: %w", dcCode, err)
		}
		for _, r := range toReports(recs) {
			if !r.IsAggregator() && r.Status != domain.StatusDraft {
				candidates = append(candidates, r)
			}
		}
	}

	var out []*domain.Report
	for _, r := range candidates {
		if r.DcCode == dcCode && domain.IsAmendment(r.Version) && !r.Status.IsFinalized() {
			out = append(out, r)
		}
	}
	return out, aggregator, nil
}

// CanAllBeSent reports whether there is at least one report and all can be sent.
func CanAllBeSent(reports []*domain.Report) bool {
	if len(reports) == 0 {
		return false
	}
	for _, r := range reports {
		if !r.Status.CanBeSent() {
			return false
		}
	}
	return true
}

// CanAllBeSubmitted reports whether there is at least one report and all
// can be submitted.
func CanAllBeSubmitted(reports []*domain.Report) bool {
	if len(reports) == 0 {
		return false
	}
	for _, r := range reports {
		if !r.Status.CanBeSubmitted() {
			return false
		}
	}
	return true
}

// CanRefresh reports whether any of the reports can be refreshed.
func CanRefresh(reports []*domain.Report) bool {
	for _, r := range reports {
		if r.Status.CanBeRefreshed() {
			return true
		}
	}
	return false
}

func (s *LifecycleService) getReport(ctx context.Context, id int64) (*domain.Report, error) {
	rec, err := s.store.GetByID(ctx, domain.KindReport, id)
	if err != nil {
		return nil, err
	}
	report, ok := rec.(*domain.Report)
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, domain.ErrInvalidKind)
	}
	return report, nil
}

func toReports(recs []domain.Record) []*domain.Report {
	out := make([]*domain.Report, 0, len(recs))
	for _, rec := range recs {
		if r, ok := rec.(*domain.Report); ok {
			out = append(out, r)
		}
	}
	return out
}
