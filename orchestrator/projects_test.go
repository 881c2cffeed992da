package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godeploy/notification"
	"godeploy/shared/model"
	"godeploy/store"
)

func validProject() NewProject {
	return NewProject{
		Name:          "site",
		RepositoryURL: "https://github.com/acme/site",
		InstallCmd:    "npm ci",
		BuildCmd:      "npm run build",
		DomainName:    "acme-site",
	}
}

func TestCreateProjectQueuesFirstDeployment(t *testing.T) {
	svc, _, rec := newRealService(t)
	ctx := context.Background()

	p, d, err := svc.CreateProject(ctx, validProject())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.ID, d.ProjectID)
	svc.Wait()

	got, deployments, err := svc.Project(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "acme-site", got.DomainName)
	require.Len(t, deployments, 1)
	assert.Equal(t, model.StatusReady, deployments[0].Status)
	assert.Equal(t, []string{d.ID + ":Queued->Building", d.ID + ":Building->Ready"}, rec.edges)

	projects, err := svc.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, p.ID, projects[0].ID)
}

func TestCreateProjectUniqueness(t *testing.T) {
	svc, _, _ := newRealService(t)
	ctx := context.Background()
	_, _, err := svc.CreateProject(ctx, validProject())
	require.NoError(t, err)
	svc.Wait()

	sameDomain := validProject()
	sameDomain.RepositoryURL = "https://github.com/acme/other"
	_, _, err = svc.CreateProject(ctx, sameDomain)
	assert.ErrorIs(t, err, ErrDomainTaken)

	sameRepository := validProject()
	sameRepository.DomainName = "other"
	sameRepository.RepositoryURL = "https://github.com/Acme/Site.git"
	_, _, err = svc.CreateProject(ctx, sameRepository)
	assert.ErrorIs(t, err, ErrRepositoryTaken)
}

func TestCreateProjectValidation(t *testing.T) {
	svc, _, _ := newRealService(t)
	cases := map[string]func(p *NewProject){
		"missing name":          func(p *NewProject) { p.Name = " " },
		"bad repository":        func(p *NewProject) { p.RepositoryURL = "not a url" },
		"missing install":       func(p *NewProject) { p.InstallCmd = "" },
		"missing build":         func(p *NewProject) { p.BuildCmd = "" },
		"short domain":          func(p *NewProject) { p.DomainName = "ab" },
		"uppercase domain":      func(p *NewProject) { p.DomainName = "Acme" },
		"leading hyphen":        func(p *NewProject) { p.DomainName = "-acme" },
		"output outside source": func(p *NewProject) { p.OutputDir = "../elsewhere" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validProject()
			mutate(&p)
			_, _, err := svc.CreateProject(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidProject)
		})
	}
}

func TestSetAutoDeploy(t *testing.T) {
	s := newStore(t)
	seedProject(t, s, false)
	svc := NewService(s, notification.NewHub(), ExecutorFunc(func(context.Context, model.Job) error { return nil }))
	ctx := context.Background()

	p, err := svc.SetAutoDeploy(ctx, "proj-1", true)
	require.NoError(t, err)
	assert.True(t, p.AutoDeploy)

	got, err := s.FindProjectByRepository(ctx, "https://github.com/acme/site")
	require.NoError(t, err)
	assert.True(t, got.AutoDeploy)

	_, err = svc.SetAutoDeploy(ctx, "ghost", true)
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
}

func TestDeleteProject(t *testing.T) {
	s := newStore(t)
	seedProject(t, s, false)
	seedDeployment(t, s, "waiting", model.StatusQueued)

	release := make(chan struct{})
	svc := NewService(s, notification.NewHub(), ExecutorFunc(func(context.Context, model.Job) error {
		<-release
		return nil
	}))
	ctx := context.Background()

	_, err := svc.Submit(ctx, "waiting")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteProject(ctx, "proj-1"), ErrProjectBusy)

	close(release)
	svc.Wait()

	require.NoError(t, svc.DeleteProject(ctx, "proj-1"))
	_, err = s.FindProject(ctx, "proj-1")
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
	_, err = s.FindDeployment(ctx, "waiting")
	assert.ErrorIs(t, err, store.ErrDeploymentNotFound)

	assert.ErrorIs(t, svc.DeleteProject(ctx, "proj-1"), store.ErrProjectNotFound)
}
