package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"godeploy/shared/model"
)

type deploymentRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	ProjectID     string `gorm:"index;size:64;not null"`
	Status        string `gorm:"size:16;not null"`
	CommitHash    string `gorm:"size:64"`
	CommitMessage string
	Logs          string    `gorm:"type:longtext"` // transcripts outgrow MySQL TEXT
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (deploymentRow) TableName() string { return "deployments" }

type projectRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"not null"`
	RepositoryURL string `gorm:"size:512;not null"`
	RepositoryKey string `gorm:"uniqueIndex;size:512;not null"`
	Branch        string
	InstallCmd    string
	BuildCmd      string
	OutputDir     string
	DomainName    string `gorm:"index;size:255"`
	AutoDeploy    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (projectRow) TableName() string { return "projects" }

// SQLStore persists records through gorm on MySQL or SQLite.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL opens driver ("mysql" or "sqlite") and migrates the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&projectRow{}, &deploymentRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func toDeployment(r *deploymentRow) *model.Deployment {
	return &model.Deployment{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		Status:        model.Status(r.Status),
		CommitHash:    r.CommitHash,
		CommitMessage: r.CommitMessage,
		Logs:          r.Logs,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toProject(r *projectRow) *model.Project {
	return &model.Project{
		ID:            r.ID,
		Name:          r.Name,
		RepositoryURL: r.RepositoryURL,
		Branch:        r.Branch,
		InstallCmd:    r.InstallCmd,
		BuildCmd:      r.BuildCmd,
		OutputDir:     r.OutputDir,
		DomainName:    r.DomainName,
		AutoDeploy:    r.AutoDeploy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *SQLStore) FindDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var row deploymentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
		}
		return nil, err
	}
	return toDeployment(&row), nil
}

func (s *SQLStore) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	row := deploymentRow{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Status:        string(d.Status),
		CommitHash:    d.CommitHash,
		CommitMessage: d.CommitMessage,
		Logs:          d.Logs,
		CreatedAt:     d.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	d.CreatedAt = row.CreatedAt
	d.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *SQLStore) UpdateDeployment(ctx context.Context, id string, update DeploymentUpdate) error {
	updates := map[string]interface{}{}
	if update.Status != nil {
		updates["status"] = string(*update.Status)
	}
	if update.Logs != nil {
		updates["logs"] = *update.Logs
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&deploymentRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	return nil
}

func (s *SQLStore) ListDeployments(ctx context.Context, projectID string, limit int) ([]*model.Deployment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var rows []deploymentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	deployments := make([]*model.Deployment, 0, len(rows))
	for i := range rows {
		deployments = append(deployments, toDeployment(&rows[i]))
	}
	return deployments, nil
}

func (s *SQLStore) FindProject(ctx context.Context, id string) (*model.Project, error) {
	var row projectRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, err
	}
	return toProject(&row), nil
}

func (s *SQLStore) FindProjectByRepository(ctx context.Context, repositoryURL string) (*model.Project, error) {
	var row projectRow
	err := s.db.WithContext(ctx).Where("repository_key = ?", RepositoryKey(repositoryURL)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, repositoryURL)
		}
		return nil, err
	}
	return toProject(&row), nil
}

func (s *SQLStore) FindProjectByDomain(ctx context.Context, domainName string) (*model.Project, error) {
	if domainName == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrProjectNotFound)
	}
	var row projectRow
	err := s.db.WithContext(ctx).Where("LOWER(domain_name) = ?", strings.ToLower(domainName)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, domainName)
		}
		return nil, err
	}
	return toProject(&row), nil
}

func (s *SQLStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	var rows []projectRow
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	projects := make([]*model.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, toProject(&rows[i]))
	}
	return projects, nil
}

func (s *SQLStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&projectRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return tx.Where("project_id = ?", id).Delete(&deploymentRow{}).Error
	})
}

func (s *SQLStore) SaveProject(ctx context.Context, p *model.Project) error {
	row := projectRow{
		ID:            p.ID,
		Name:          p.Name,
		RepositoryURL: p.RepositoryURL,
		RepositoryKey: RepositoryKey(p.RepositoryURL),
		Branch:        p.Branch,
		InstallCmd:    p.InstallCmd,
		BuildCmd:      p.BuildCmd,
		OutputDir:     p.OutputDir,
		DomainName:    p.DomainName,
		AutoDeploy:    p.AutoDeploy,
		CreatedAt:     p.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}
	p.CreatedAt = row.CreatedAt
	p.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
