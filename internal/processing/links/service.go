package links

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/infrastructure/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var revealTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "link_reveal_total",
		Help: "Outcomes of short-link reveal attempts",
	},
	[]string{"status"},
)

type Service struct {
	store      docstore.Store
	statsRepo  StatsRepository
	clicks     ClickRecorder
	slugger    Slugger
	slugLength int
	now        func() time.Time
}

func NewService(store docstore.Store, statsRepo StatsRepository, clicks ClickRecorder, slugger Slugger, slugLength int) *Service {
	if slugLength <= 0 {
		slugLength = 6
	}

	return &Service{
		store:      store,
		statsRepo:  statsRepo,
		clicks:     clicks,
		slugger:    slugger,
		slugLength: slugLength,
		now:        time.Now,
	}
}

func (s *Service) CreateLink(ctx context.Context, in CreateLinkInput) (*ShortLink, error) {
	normalizedURL, err := validateAndNormalizeURL(in.URL)
	if err != nil {
		return nil, ErrInvalidURL
	}
	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}
	if in.Protected {
		if err := validateSecret(in.Secret); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	link := &ShortLink{
		OriginalURL: normalizedURL,
		OwnerID:     ownerID,
		IsActive:    true,
		IsProtected: in.Protected,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if in.Protected {
		link.UnlockSecret = in.Secret
	}

	if custom := strings.TrimSpace(in.Slug); custom != "" {
		if !validation.IsSlug(custom) {
			return nil, ErrInvalidSlug
		}
		link.ID = custom
		if err := s.insert(ctx, link); err != nil {
			return nil, err
		}
		return link, nil
	}

	const maxAttempts = 10
	for range maxAttempts {
		slug, err := s.slugger.Generate(s.slugLength)
		if err != nil {
			return nil, err
		}
		link.ID = slug

		if err := s.insert(ctx, link); err != nil {
			if errors.Is(err, ErrSlugTaken) {
				continue
			}
			return nil, err
		}

		return link, nil
	}

	return nil, ErrSlugTaken
}

func (s *Service) insert(ctx context.Context, link *ShortLink) error {
	err := s.store.Create(ctx, Collection, link.ID, link.fields())
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return ErrSlugTaken
	}
	return err
}

func (s *Service) GetLink(ctx context.Context, id string) (*ShortLink, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return Decode(doc)
}

// Resolve loads the current record for a short-link id.
func (s *Service) Resolve(ctx context.Context, id string) (*ShortLink, error) {
	return s.GetLink(ctx, id)
}

// Open resolves id and runs the access gate on the fresh record. Inactive
// links are refused before the gate is consulted.
func (s *Service) Open(ctx context.Context, id string, secret *string) (*ShortLink, Outcome, error) {
	link, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, Outcome{}, err
	}
	if !link.IsActive {
		return link, Outcome{}, ErrInactive
	}

	out := Reveal(link, secret)
	revealTotal.WithLabelValues(string(out.Status)).Inc()
	if out.Status == StatusDenied {
		logger.Debug("unlock attempt denied", zap.String("link_id", link.ID))
	}
	return link, out, nil
}

func (s *Service) ListLinks(ctx context.Context, f ListFilter) ([]ShortLink, error) {
	ownerID := strings.TrimSpace(f.OwnerID)
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}

	filters := []docstore.Filter{docstore.Eq("ownerId", ownerID)}
	if f.ByFolder {
		if f.FolderID == "" {
			filters = append(filters, docstore.Eq("folderId", nil))
		} else {
			filters = append(filters, docstore.Eq("folderId", f.FolderID))
		}
	}

	docs, err := s.store.Query(ctx, Collection, filters...)
	if err != nil {
		return nil, err
	}
	return DecodeAll(docs)
}

// DecodeAll decodes every document, failing on the first malformed one.
func DecodeAll(docs []docstore.Document) ([]ShortLink, error) {
	out := make([]ShortLink, 0, len(docs))
	for _, doc := range docs {
		link, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *link)
	}
	return out, nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, docstore.Fields{
		"isActive":   active,
		"modifiedAt": s.now().UTC(),
	})
}

// SetProtection turns protection on with secret, or off. Turning it off drops
// the stored secret.
func (s *Service) SetProtection(ctx context.Context, id string, protected bool, secret string) error {
	fields := docstore.Fields{
		"isProtected": protected,
		"modifiedAt":  s.now().UTC(),
	}
	if protected {
		if err := validateSecret(secret); err != nil {
			return err
		}
		fields["unlockSecret"] = secret
	} else {
		fields["unlockSecret"] = docstore.Remove()
	}
	return s.update(ctx, id, fields)
}

func (s *Service) update(ctx context.Context, id string, fields docstore.Fields) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotFound
	}
	err := s.store.Update(ctx, Collection, id, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// DeleteLink removes the link document. Folder membership is derived from the
// link itself, so no folder needs touching.
func (s *Service) DeleteLink(ctx context.Context, id string) error {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, Collection, link.ID); err != nil {
		return err
	}

	if s.statsRepo != nil {
		if err := s.statsRepo.DeleteByLink(ctx, link.ID); err != nil {
			logger.Warn("failed to delete click stats", zap.Error(err), zap.String("link_id", link.ID))
		}
	}
	return nil
}

func (s *Service) RecordClick(ctx context.Context, id string) error {
	if s.clicks == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	return s.clicks.RecordClick(ctx, id, s.now().UTC())
}

func (s *Service) GetStats(ctx context.Context, id string, from, to time.Time) ([]DailyCount, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}

	from = from.UTC()
	to = to.UTC()
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	counts, err := s.statsRepo.GetDaily(ctx, link.ID, from, to)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]int64, len(counts))
	for _, c := range counts {
		byDate[c.Date] = c.Count
	}

	out := make([]DailyCount, 0, int(to.Sub(from).Hours()/24)+1)
	for day := dateOnly(from); !day.After(dateOnly(to)); day = day.AddDate(0, 0, 1) {
		ds := day.Format(time.DateOnly)
		out = append(out, DailyCount{
			Date:  ds,
			Count: byDate[ds],
		})
	}

	return out, nil
}

func validateSecret(secret string) error {
	if secret == "" || len(secret) > validation.MaxSecretLength {
		return ErrInvalidSecret
	}
	return nil
}

func validateAndNormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !validation.IsHTTPURL(raw) {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u.Fragment = ""
	return u.String(), nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
