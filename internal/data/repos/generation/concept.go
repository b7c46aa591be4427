package generation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// ConceptCandidate is one synthesized concept offered to CreateMany.
type ConceptCandidate struct {
	Title       string
	Description string
}

type ConceptRepo interface {
	// CreateMany inserts candidates that do not already exist in the
	// owner's concept library and returns only the newly created ids.
	// The pipeline treats the duplicate detection as opaque.
	CreateMany(dbc dbctx.Context, ownerUserID, jobID uuid.UUID, candidates []ConceptCandidate) ([]uuid.UUID, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*generation.Concept, error)
	ListByJob(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) ([]*generation.Concept, error)

	// UpdateMetrics persists the recomputed quality metrics after an
	// expansion run.
	UpdateMetrics(dbc dbctx.Context, id uuid.UUID, phrasingCount, thinScore, conflictScore int) error
}

type conceptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConceptRepo(db *gorm.DB, baseLog *logger.Logger) ConceptRepo {
	return &conceptRepo{
		db:  db,
		log: baseLog.With("repo", "ConceptRepo"),
	}
}

func (r *conceptRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (r *conceptRepo) CreateMany(dbc dbctx.Context, ownerUserID, jobID uuid.UUID, candidates []ConceptCandidate) ([]uuid.UUID, error) {
	newIDs := []uuid.UUID{}
	if ownerUserID == uuid.Nil || len(candidates) == 0 {
		return newIDs, nil
	}

	var existing []generation.Concept
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Select("title").
		Where("owner_user_id = ?", ownerUserID).
		Find(&existing).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[normalizeTitle(c.Title)] = struct{}{}
	}

	rows := make([]*generation.Concept, 0, len(candidates))
	for _, cand := range candidates {
		key := normalizeTitle(cand.Title)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, &generation.Concept{
			ID:          uuid.New(),
			OwnerUserID: ownerUserID,
			JobID:       jobID,
			Title:       strings.TrimSpace(cand.Title),
			Description: strings.TrimSpace(cand.Description),
		})
	}
	if len(rows) == 0 {
		return newIDs, nil
	}

	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		newIDs = append(newIDs, row.ID)
	}
	return newIDs, nil
}

func (r *conceptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*generation.Concept, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var c generation.Concept
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conceptRepo) ListByJob(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) ([]*generation.Concept, error) {
	var out []*generation.Concept
	if ownerUserID == uuid.Nil || jobID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND job_id = ?", ownerUserID, jobID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conceptRepo) UpdateMetrics(dbc dbctx.Context, id uuid.UUID, phrasingCount, thinScore, conflictScore int) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.Concept{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"phrasing_count": phrasingCount,
			"thin_score":     thinScore,
			"conflict_score": conflictScore,
			"updated_at":     time.Now(),
		}).Error
}
