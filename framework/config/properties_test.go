package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-injector/framework/config"
	"github.com/km-arc/go-injector/framework/profile"
)

type MailProperties struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gt=0"`
	From string `yaml:"from" validate:"omitempty,email"`
}

type CacheProperties struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size" validate:"min=1"`
}

func TestProperties_BaseFile(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")

	var mail MailProperties
	require.NoError(t, src.Load("mail", profile.Default, &mail))
	assert.Equal(t, MailProperties{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}, mail)
}

func TestProperties_ProfileFileReplacesBase(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")
	assert.Equal(t, []string{
		filepath.Join("testdata/resources", "application-test.yml"),
		filepath.Join("testdata/resources", "application.yml"),
	}, src.Files(profile.New("test", 1)))

	var mail MailProperties
	require.NoError(t, src.Load("mail", profile.New("Test", 1), &mail))
	assert.Equal(t, MailProperties{Host: "localhost", Port: 2525}, mail)
}

func TestProperties_ProfileFileWithoutPrefixFallsBackToBase(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")

	var cache CacheProperties
	require.NoError(t, src.Load("cache", profile.New("test", 1), &cache))
	assert.Equal(t, 30*time.Second, cache.TTL)
	assert.Equal(t, 128, cache.Size)
}

func TestProperties_UnknownProfileFallsBackToBase(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")
	assert.Len(t, src.Files(profile.New("staging", 3)), 1)

	var cache CacheProperties
	require.NoError(t, src.Load("cache", profile.New("staging", 3), &cache))
	assert.Equal(t, 30*time.Second, cache.TTL)
	assert.Equal(t, 128, cache.Size)
}

func TestProperties_MissingPrefix(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")

	var mail MailProperties
	err := src.Load("smtp", profile.Default, &mail)
	assert.True(t, errors.Is(err, config.ErrPropertiesNotFound))
}

func TestProperties_MissingDirectory(t *testing.T) {
	src := config.NewPropertySource(filepath.Join(t.TempDir(), "nope"))

	var mail MailProperties
	err := src.Load("mail", profile.Default, &mail)
	assert.True(t, errors.Is(err, config.ErrPropertiesNotFound))
}

func TestProperties_ValidationFails(t *testing.T) {
	src := config.NewPropertySource("testdata/resources")

	var broken MailProperties
	err := src.Load("broken", profile.New("test", 1), &broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate broken")
}

func TestProperties_NestedPrefixAndScalar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "application.yml"), []byte("app:\n  mail:\n    host: nested\n    port: 25\n  name: demo\n"), 0o644))
	src := config.NewPropertySource(dir)

	var mail MailProperties
	require.NoError(t, src.Load("app.mail", profile.Default, &mail))
	assert.Equal(t, "nested", mail.Host)

	var name string
	require.NoError(t, src.Load("app.name", profile.Default, &name))
	assert.Equal(t, "demo", name)
}

func TestProperties_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "application.yml"), []byte("mail: [unclosed\n"), 0o644))

	var mail MailProperties
	err := config.NewPropertySource(dir).Load("mail", profile.Default, &mail)
	require.Error(t, err)
	assert.False(t, errors.Is(err, config.ErrPropertiesNotFound))
}
