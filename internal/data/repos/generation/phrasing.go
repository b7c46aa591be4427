package generation

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

type PhrasingRepo interface {
	// CreateMany inserts the batch and returns how many rows were
	// actually written.
	CreateMany(dbc dbctx.Context, phrasings []*generation.Phrasing) (int, error)

	// ListRecentByConcept returns the newest phrasings for a concept,
	// used as negative examples for the generator.
	ListRecentByConcept(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID, limit int) ([]*generation.Phrasing, error)

	// QuestionTexts returns every question text stored for a concept.
	QuestionTexts(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID) ([]string, error)

	CountByConcept(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID) (int64, error)
}

type phrasingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhrasingRepo(db *gorm.DB, baseLog *logger.Logger) PhrasingRepo {
	return &phrasingRepo{
		db:  db,
		log: baseLog.With("repo", "PhrasingRepo"),
	}
}

func (r *phrasingRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *phrasingRepo) CreateMany(dbc dbctx.Context, phrasings []*generation.Phrasing) (int, error) {
	if len(phrasings) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).Create(&phrasings)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *phrasingRepo) ListRecentByConcept(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID, limit int) ([]*generation.Phrasing, error) {
	var out []*generation.Phrasing
	if ownerUserID == uuid.Nil || conceptID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 20
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND concept_id = ?", ownerUserID, conceptID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *phrasingRepo) QuestionTexts(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID) ([]string, error) {
	out := []string{}
	if ownerUserID == uuid.Nil || conceptID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.Phrasing{}).
		Where("owner_user_id = ? AND concept_id = ?", ownerUserID, conceptID).
		Pluck("question", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *phrasingRepo) CountByConcept(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID) (int64, error) {
	if ownerUserID == uuid.Nil || conceptID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.Phrasing{}).
		Where("owner_user_id = ? AND concept_id = ?", ownerUserID, conceptID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
