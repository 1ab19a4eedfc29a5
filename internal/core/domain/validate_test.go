package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polykit/polykit/internal/core/domain"
)

func taskPkg(name string, tasks map[string]domain.Task, deps ...string) *domain.Package {
	p := pkg(name, deps...)
	p.Tasks = tasks
	return p
}

func TestValidate_CleanWorkspace(t *testing.T) {
	diags := domain.Validate([]*domain.Package{
		taskPkg("a", map[string]domain.Task{
			"build": {Name: "build", Command: "make"},
		}),
		taskPkg("b", map[string]domain.Task{
			"build": {Name: "build", Command: "make"},
			"test":  {Name: "test", Command: "make test", DependsOn: []string{"build"}},
		}, "a"),
	})
	assert.Empty(t, diags)
}

func TestValidate_NameRules(t *testing.T) {
	assert.True(t, domain.ValidName("foo-bar_1.2@scope"))
	assert.False(t, domain.ValidName(".hidden"))
	assert.False(t, domain.ValidName("-dash"))
	assert.False(t, domain.ValidName("has space"))
	assert.False(t, domain.ValidName("slash/y"))
	assert.False(t, domain.ValidName(""))

	diags := domain.Validate([]*domain.Package{pkg(".bad")})
	assert.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "invalid package name")
}

func TestValidate_CommandSanity(t *testing.T) {
	diags := domain.Validate([]*domain.Package{
		taskPkg("a", map[string]domain.Task{
			"build": {Name: "build", Command: "echo hi\x00"},
			"test":  {Name: "test", Command: "echo\nrm -rf /"},
		}),
	})
	assert.Len(t, diags, 2)
}

func TestValidate_UnresolvedDep(t *testing.T) {
	diags := domain.Validate([]*domain.Package{pkg("a", "ghost")})
	assert.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, `"ghost"`)
}

func TestValidate_TaskDependsOn(t *testing.T) {
	diags := domain.Validate([]*domain.Package{
		taskPkg("a", map[string]domain.Task{
			"test": {Name: "test", Command: "x", DependsOn: []string{"build"}},
		}),
	})
	assert.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "depends_on")
}

func TestValidate_SelfLoop(t *testing.T) {
	diags := domain.Validate([]*domain.Package{pkg("a", "a")})
	assert.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "lists itself")
}

func TestValidate_TaskCycle(t *testing.T) {
	diags := domain.Validate([]*domain.Package{
		taskPkg("a", map[string]domain.Task{
			"build": {Name: "build", Command: "x", DependsOn: []string{"test"}},
			"test":  {Name: "test", Command: "y", DependsOn: []string{"build"}},
		}),
	})
	assert.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "cycle")
}
