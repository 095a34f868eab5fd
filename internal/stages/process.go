package stages

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/identity"
)

// ProcessReport summarizes event/person materialization from extractions.
type ProcessReport struct {
	ProcessedCount int      `json:"processed_count"`
	Events         []string `json:"events,omitempty"`
	People         []string `json:"people,omitempty"`
	Skipped        []string `json:"skipped,omitempty"`
}

// ProcessExtractedEvents turns stored page extractions into event, person and
// venue records with stable identity keys. Re-processing the same pages is a
// pure re-upsert: identity keys are content-derived, so no duplicates appear.
// A page whose entity vanished is logged and skipped, never fatal.
func (p *Pipeline) ProcessExtractedEvents(ctx context.Context, pageIDs []string) (ProcessReport, error) {
	var report ProcessReport
	for _, pageID := range pageIDs {
		page, err := p.store.GetPage(ctx, pageID)
		if err != nil || page.Extraction == nil || page.ParseStatus != core.ParseOK {
			report.Skipped = append(report.Skipped, pageID)
			continue
		}
		if _, err := p.store.GetEntity(ctx, page.SourceID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				p.logger.Warn("page references missing entity, skipping",
					zap.String("page_id", pageID), zap.String("source_id", page.SourceID))
				report.Skipped = append(report.Skipped, pageID)
				continue
			}
			return ProcessReport{}, err
		}
		if err := p.processPage(ctx, page, &report); err != nil {
			return ProcessReport{}, err
		}
	}
	return report, nil
}

func (p *Pipeline) processPage(ctx context.Context, page core.SourcePage, report *ProcessReport) error {
	ex := page.Extraction
	switch ex.Kind {
	case core.ClassEvent, core.ClassHistoricalEvent:
		if err := p.persistEvent(ctx, page, *ex.Event, true, report); err != nil {
			return err
		}
	case core.ClassMultipleEvents:
		for _, details := range ex.Events {
			if err := p.persistEvent(ctx, page, details, false, report); err != nil {
				return err
			}
		}
	case core.ClassCreatorInfo:
		if err := p.persistVenue(ctx, page, *ex.Venue); err != nil {
			return err
		}
		report.ProcessedCount++
	case core.ClassArtists:
		for _, person := range ex.People {
			if err := p.persistPerson(ctx, page, person, report); err != nil {
				return err
			}
		}
	}
	// Extraction pages may carry people alongside events (a show page that
	// names its artists).
	if ex.Kind != core.ClassArtists {
		for _, person := range ex.People {
			if err := p.persistPerson(ctx, page, person, report); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistEvent upserts one event under its identity key. detailPage marks a
// dedicated single-event page, which gets the default end time when absent;
// listing rows leave end unset.
func (p *Pipeline) persistEvent(ctx context.Context, page core.SourcePage, details core.EventDetails, detailPage bool, report *ProcessReport) error {
	key, err := identity.EventKey(page.SourceID, details.Title, details.StartTime)
	if err != nil {
		// Empty required fields are the extraction's problem, not the run's.
		p.logger.Warn("event identity rejected",
			zap.String("page_id", page.ID), zap.Error(err))
		return nil
	}
	end := details.EndTime
	if end == nil && detailPage {
		t := details.StartTime.Add(p.cfg.DefaultEventDuration)
		end = &t
	}
	event := core.ExtractedEvent{
		ID:        key,
		SourceID:  page.SourceID,
		PageID:    page.ID,
		Title:     details.Title,
		StartTime: details.StartTime,
		EndTime:   end,
		Tags:      details.Tags,
		Artists:   details.Artists,
	}
	if err := p.store.UpsertEvent(ctx, event); err != nil {
		return err
	}
	report.ProcessedCount++
	report.Events = append(report.Events, key)
	return nil
}

func (p *Pipeline) persistPerson(ctx context.Context, page core.SourcePage, details core.PersonDetails, report *ProcessReport) error {
	key, err := identity.PersonKey(details.Name, details.Website)
	if err != nil {
		p.logger.Warn("person identity rejected",
			zap.String("page_id", page.ID), zap.Error(err))
		return nil
	}
	person := core.ExtractedPerson{
		ID:       key,
		Name:     details.Name,
		Website:  details.Website,
		Tags:     details.Tags,
		PageID:   page.ID,
		SourceID: page.SourceID,
	}
	if err := p.store.UpsertPerson(ctx, person); err != nil {
		return err
	}
	report.ProcessedCount++
	report.People = append(report.People, key)
	return nil
}

// persistVenue folds creator_info display metadata back onto the entity.
func (p *Pipeline) persistVenue(ctx context.Context, page core.SourcePage, details core.VenueDetails) error {
	entity, err := p.store.GetEntity(ctx, page.SourceID)
	if err != nil {
		return err
	}
	if details.Name != "" {
		entity.Name = details.Name
	}
	if details.City != "" {
		entity.City = details.City
	}
	if details.Country != "" {
		entity.Country = details.Country
	}
	entity.UpdatedAt = p.clock.Now()
	if _, err := p.store.UpsertEntity(ctx, entity); err != nil {
		return err
	}
	return nil
}
