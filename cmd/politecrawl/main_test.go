package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masahif/politecrawl/internal/cmd"
)

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildTime)
}

func TestMainLogic(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	cmd.SetVersionInfo(Version, BuildTime)

	for _, args := range [][]string{
		{"politecrawl", "--help"},
		{"politecrawl", "--version"},
	} {
		os.Args = args
		assert.NoError(t, cmd.Execute(), args[1])
	}
}
