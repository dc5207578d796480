package main

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=8888"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	SecretKey            string        `env:"SECRET_KEY,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=720h"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT,default=0s"`
	CensoredWords        string        `env:"CENSORED_WORDS"`
	CharacterReplacement string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

// CensoredWordList splits the comma separated CENSORED_WORDS value,
// dropping empty entries so a trailing comma is harmless.
func (c Config) CensoredWordList() []string {
	words := strings.Split(c.CensoredWords, ",")
	return lo.FilterMap(words, func(w string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(w)
		return trimmed, trimmed != ""
	})
}

func (c Config) CharacterRune() rune {
	for _, r := range c.CharacterReplacement {
		return r
	}
	return '*'
}
