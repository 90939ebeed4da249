package pipeline

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/resilience"
	"github.com/govsniper/govsniper/pkg/registry"
)

// Lead generation turns closed tenders into prospects: the companies that
// bid and lost are exactly the companies shopping for the next tender. Three
// jobs run the funnel independently, each resumable at its own pace:
// extract award participants, enrich them with registry contacts, and create
// leadgen clients from losing bidders that have an email.

//go:embed keywords.yaml
var keywordsYAML []byte

type keywordTable struct {
	Default    []string `yaml:"default"`
	Categories []struct {
		Match    string   `yaml:"match"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"categories"`
}

var (
	keywordsOnce sync.Once
	keywords     keywordTable
	keywordsErr  error
)

// keywordsForCategory picks the keyword subscription for a lead based on the
// category of the tender it bid on.
func keywordsForCategory(category string) ([]string, error) {
	keywordsOnce.Do(func() {
		keywordsErr = yaml.Unmarshal(keywordsYAML, &keywords)
	})
	if keywordsErr != nil {
		return nil, eris.Wrap(keywordsErr, "leadgen: parse keyword table")
	}

	lower := strings.ToLower(category)
	for _, row := range keywords.Categories {
		if row.Match != "" && strings.Contains(lower, strings.ToLower(row.Match)) {
			return row.Keywords, nil
		}
	}
	return keywords.Default, nil
}

// LeadgenExtract walks terminal tenders inside the award window and records
// their bidders. A tender is stamped extracted only after its whole award is
// recorded, so an interrupted run picks the tender up again and the unique
// (tender, tax id) pair absorbs the bidders it already has.
func (p *Pipeline) LeadgenExtract(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	olderThan := now.AddDate(0, 0, -p.cfg.Leadgen.MinAgeDays)
	youngerThan := now.AddDate(0, 0, -p.cfg.Leadgen.MaxAgeDays)

	tenders, err := p.store.ListTerminalTendersInWindow(ctx, olderThan, youngerThan, p.batchLimit())
	if err != nil {
		return 0, eris.Wrap(err, "leadgen: list window")
	}

	extracted := 0
	for _, t := range tenders {
		award, err := p.feed.FetchAward(ctx, t.ExternalID)
		if err != nil {
			p.log.Warn("award fetch failed",
				zap.String("tender", t.ID),
				zap.String("external_id", t.ExternalID),
				zap.Error(err),
			)
			continue
		}
		for _, a := range award {
			if a.TaxID == "" {
				continue
			}
			ok, err := p.store.InsertParticipant(ctx, &model.Participant{
				TenderID:    t.ID,
				TaxID:       a.TaxID,
				CompanyName: a.CompanyName,
				BidAmount:   a.BidAmount,
				IsWinner:    a.Winner,
			})
			if err != nil {
				return extracted, eris.Wrapf(err, "leadgen: insert participant %s/%s", t.ID, a.TaxID)
			}
			if ok {
				extracted++
			}
		}
		// An empty award stays unstamped: the feed may publish the
		// protocol later in the window.
		if len(award) > 0 {
			if err := p.store.MarkLeadsExtracted(ctx, t.ID); err != nil {
				return extracted, eris.Wrapf(err, "leadgen: mark extracted %s", t.ID)
			}
		}
	}

	p.log.Info("leadgen extract finished",
		zap.Int("tenders", len(tenders)),
		zap.Int("participants", extracted),
	)
	return extracted, nil
}

// LeadgenContacts looks up registry contacts for participants that lack
// them. A participant whose tax id recently failed lookup is skipped until
// the cool-down expires; a definitive not-found is recorded the same way so
// dead tax ids do not burn the rate budget every run.
func (p *Pipeline) LeadgenContacts(ctx context.Context) (int, error) {
	limit := p.cfg.Leadgen.ContactLimit
	if limit <= 0 {
		limit = 50
	}
	participants, err := p.store.ListParticipantsNeedingContacts(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "leadgen: list needing contacts")
	}

	ttl := time.Duration(p.cfg.Registry.FailureTTLHours) * time.Hour
	fetched := 0
	for _, part := range participants {
		cooled, err := p.store.LookupRecentlyFailed(ctx, part.TaxID)
		if err != nil {
			return fetched, eris.Wrapf(err, "leadgen: check cooldown %s", part.TaxID)
		}
		if cooled {
			continue
		}

		lookupCfg := resilience.DefaultRetryConfig()
		lookupCfg.OnRetry = resilience.RetryLogger("registry", "lookup")
		contact, err := resilience.DoVal(ctx, lookupCfg, func(ctx context.Context) (*registry.Contact, error) {
			return p.registry.Lookup(ctx, part.TaxID)
		})
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				if recErr := p.store.RecordLookupFailure(ctx, part.TaxID, ttl); recErr != nil {
					return fetched, eris.Wrapf(recErr, "leadgen: record failure %s", part.TaxID)
				}
				p.log.Debug("tax id not in registry", zap.String("tax_id", part.TaxID))
				continue
			}
			// Transient registry trouble; leave the whole batch for the
			// next run rather than hammering a struggling upstream.
			return fetched, eris.Wrapf(err, "leadgen: lookup %s", part.TaxID)
		}

		if err := p.store.SetParticipantContacts(ctx, part.ID, contact.Email, contact.Phone, contact.Address); err != nil {
			return fetched, eris.Wrapf(err, "leadgen: set contacts %s", part.ID)
		}
		fetched++
	}

	p.log.Info("leadgen contacts finished",
		zap.Int("candidates", len(participants)),
		zap.Int("fetched", fetched),
	)
	return fetched, nil
}

// LeadgenClients creates inactive leadgen clients from losing bidders with
// a known email. The clients.lead_tax_id and email unique constraints make
// creation idempotent per company; either duplicate marks the participant
// done so it is not revisited.
func (p *Pipeline) LeadgenClients(ctx context.Context) (int, error) {
	participants, err := p.store.ListParticipantsForClientCreation(ctx, p.batchLimit())
	if err != nil {
		return 0, eris.Wrap(err, "leadgen: list for client creation")
	}

	created := 0
	for _, part := range participants {
		tender, err := p.store.GetTender(ctx, part.TenderID)
		if err != nil {
			return created, eris.Wrapf(err, "leadgen: load tender %s", part.TenderID)
		}
		category := ""
		if tender != nil {
			category = tender.Category
		}
		kws, err := keywordsForCategory(category)
		if err != nil {
			return created, err
		}

		ok, err := p.store.CreateClient(ctx, &model.Client{
			Email:        part.Email,
			Name:         part.CompanyName,
			Company:      part.CompanyName,
			Phone:        part.Phone,
			Active:       false,
			Keywords:     kws,
			Origin:       model.OriginLeadgen,
			LeadTaxID:    part.TaxID,
			LeadTenderID: part.TenderID,
		})
		if err != nil {
			return created, eris.Wrapf(err, "leadgen: create client %s", part.TaxID)
		}
		if err := p.store.MarkClientCreated(ctx, part.ID); err != nil {
			return created, eris.Wrapf(err, "leadgen: mark created %s", part.ID)
		}
		if ok {
			created++
		}
	}

	p.log.Info("leadgen clients finished",
		zap.Int("candidates", len(participants)),
		zap.Int("created", created),
	)
	return created, nil
}
