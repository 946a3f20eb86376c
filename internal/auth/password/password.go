package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	MinLength = 8
)

// Hash returns an encoded Argon2id hash in the PHC string format.
func Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// Verify checks whether a password matches the encoded Argon2id hash.
func Verify(password, encoded string) bool {
	params, salt, hash, ok := decode(encoded)
	if !ok {
		return false
	}
	check := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decode(encoded string) (argonParams, []byte, []byte, bool) {
	var params argonParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return params, nil, nil, false
	}

	fields := strings.Split(parts[3], ",")
	if len(fields) != 3 {
		return params, nil, nil, false
	}
	m, okM := strings.CutPrefix(fields[0], "m=")
	t, okT := strings.CutPrefix(fields[1], "t=")
	p, okP := strings.CutPrefix(fields[2], "p=")
	if !okM || !okT || !okP {
		return params, nil, nil, false
	}
	m64, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return params, nil, nil, false
	}
	t64, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return params, nil, nil, false
	}
	p64, err := strconv.ParseUint(p, 10, 8)
	if err != nil {
		return params, nil, nil, false
	}
	params = argonParams{memory: uint32(m64), time: uint32(t64), threads: uint8(p64)}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return params, nil, nil, false
	}
	return params, salt, hash, true
}
