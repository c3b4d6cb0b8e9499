package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCLIUnknownCommand(t *testing.T) {
	assert.Equal(t, 1, runCLI([]string{"bogus"}))
}

func TestRunCLINoArgs(t *testing.T) {
	assert.Equal(t, 1, runCLI([]string{}))
}

func TestRunCLIHelp(t *testing.T) {
	assert.Equal(t, 0, runCLI([]string{"help"}))
	assert.Equal(t, 0, runCLI([]string{"--help"}))
}

func TestRunCLIVersion(t *testing.T) {
	assert.Equal(t, 0, runCLI([]string{"version"}))
	assert.Equal(t, 0, runCLI([]string{"--version"}))
	assert.Equal(t, 0, runCLI([]string{"version", "--json"}))
	assert.Equal(t, 1, runCLI([]string{"version", "extra"}))
}

func TestNounHelp(t *testing.T) {
	assert.Equal(t, 0, runCLI([]string{"system", "help"}))
	assert.Equal(t, 0, runCLI([]string{"config", "help"}))
	assert.Equal(t, 0, runCLI([]string{"fleet", "help"}))
	assert.Equal(t, 1, runCLI([]string{"system"}))
	assert.Equal(t, 1, runCLI([]string{"system", "bogus"}))
}

func TestActionHelpFlags(t *testing.T) {
	assert.Equal(t, 0, runCLI([]string{"system", "start", "--help"}))
	assert.Equal(t, 0, runCLI([]string{"system", "watch", "--help"}))
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestCurrentVersionInfo(t *testing.T) {
	info := currentVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestHelpTokenHelpers(t *testing.T) {
	assert.True(t, isHelpToken("help"))
	assert.True(t, isHelpToken("--help"))
	assert.True(t, isHelpToken("-h"))
	assert.False(t, isHelpToken("start"))

	assert.True(t, hasHelpFlag([]string{"--config", "x", "--help"}))
	assert.False(t, hasHelpFlag([]string{"--config", "x"}))
}
