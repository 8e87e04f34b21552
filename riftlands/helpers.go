package riftlands

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/crypto/argon2"
)

const loggerContextKey contextKey = "logger"

type contextKey string

var (
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32
)

// discordInteractionOptions extracts the interaction options from a
// Discord interaction, keyed by option name.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"[redacted]"` will cause "[redacted]" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}

	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	var ctxLogger *slog.Logger
	if logger == nil {
		ctxLogger = slog.Default()
	} else {
		ctxLogger = logger
	}
	return context.WithValue(ctx, loggerContextKey, ctxLogger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// HashPassword securely hashes a password using Argon2id
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encodedHash := fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory,
		argon2Time,
		argon2Threads,
		b64Salt,
		b64Hash,
	)

	return encodedHash, nil
}

// VerifyPassword checks if the provided password matches the stored hash
func VerifyPassword(storedHash, password string) (bool, error) {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	var memory, argonTime, threads int
	_, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&memory,
		&argonTime,
		&threads,
	)
	if err != nil {
		return false, errors.New("invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("invalid salt")
	}

	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("invalid hash")
	}

	hashToCompare := argon2.IDKey(
		[]byte(password),
		salt,
		uint32(argonTime),
		uint32(memory),
		uint8(threads),
		uint32(len(decodedHash)),
	)

	return subtle.ConstantTimeCompare(decodedHash, hashToCompare) == 1, nil
}
