package coretest

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/authrecipes/recipe"
)

type device struct {
	deviceID         string
	preAuthSessionID string
	tenantID         string
	email            string
	phone            string
	attempts         int
	codes            []*code
	created          int64
}

type code struct {
	codeID            string
	userInputCodeHash []byte
	linkCode          string
	timeCreated       int64
	lifetime          int64
}

func (c *code) expired(now int64) bool {
	return now >= c.timeCreated+c.lifetime
}

func (c *code) matches(userInputCode string) bool {
	return bcrypt.CompareHashAndPassword(c.userInputCodeHash, []byte(userInputCode)) == nil
}

func hashSecret(secret string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("coretest: hashing: %v", err))
	}
	return h
}

func deviceIDHash(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// newCode must be called with s.mu held.
func (s *Server) newCode(d *device, userInputCode string) map[string]any {
	if userInputCode == "" {
		userInputCode = fmt.Sprintf("%06d", rand.IntN(1000000))
	}
	c := &code{
		codeID:            ulid.Make().String(),
		userInputCodeHash: hashSecret(userInputCode),
		linkCode:          ulid.Make().String(),
		timeCreated:       s.nowMillis(),
		lifetime:          s.CodeLifetime,
	}
	d.codes = append(d.codes, c)
	return map[string]any{
		"status":           "OK",
		"preAuthSessionId": d.preAuthSessionID,
		"codeId":           c.codeID,
		"deviceId":         d.deviceID,
		"userInputCode":    userInputCode,
		"linkCode":         c.linkCode,
		"timeCreated":      c.timeCreated,
		"codeLifetime":     c.lifetime,
	}
}

func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email         *string `json:"email"`
		PhoneNumber   *string `json:"phoneNumber"`
		DeviceID      *string `json:"deviceId"`
		UserInputCode *string `json:"userInputCode"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	requested := ""
	if body.UserInputCode != nil {
		requested = *body.UserInputCode
	}

	if body.DeviceID != nil {
		d := s.deviceByID(tenantID, *body.DeviceID)
		if d == nil {
			writeJSON(w, status("RESTART_FLOW_ERROR"))
			return
		}
		if requested != "" {
			for _, c := range d.codes {
				if c.matches(requested) {
					writeJSON(w, status("USER_INPUT_CODE_ALREADY_USED_ERROR"))
					return
				}
			}
		}
		writeJSON(w, s.newCode(d, requested))
		return
	}

	if (body.Email == nil) == (body.PhoneNumber == nil) {
		badRequest(w, "Please provide exactly one of email or phoneNumber")
		return
	}
	d := &device{
		deviceID:         ulid.Make().String(),
		preAuthSessionID: ulid.Make().String(),
		tenantID:         tenantID,
		created:          s.nowMillis(),
	}
	if body.Email != nil {
		d.email = *body.Email
	} else {
		d.phone = *body.PhoneNumber
	}
	s.devices[d.preAuthSessionID] = d
	writeJSON(w, s.newCode(d, requested))
}

// deviceByID must be called with s.mu held.
func (s *Server) deviceByID(tenantID, deviceID string) *device {
	for _, d := range s.devices {
		if d.deviceID == deviceID && d.tenantID == tenantID {
			return d
		}
	}
	return nil
}

type consumeInput struct {
	PreAuthSessionID string `json:"preAuthSessionId"`
	LinkCode         string `json:"linkCode"`
	DeviceID         string `json:"deviceId"`
	UserInputCode    string `json:"userInputCode"`
}

// checkCredentials validates in against the device's codes, counting failed
// attempts. A nil device means the response is a failure status. Must be
// called with s.mu held.
func (s *Server) checkCredentials(tenantID string, in consumeInput) (*device, map[string]any) {
	d := s.devices[in.PreAuthSessionID]
	if d == nil || d.tenantID != tenantID {
		return nil, status("RESTART_FLOW_ERROR")
	}
	now := s.nowMillis()

	if in.LinkCode != "" {
		for _, c := range d.codes {
			if c.linkCode == in.LinkCode && !c.expired(now) {
				return d, nil
			}
		}
		return nil, status("RESTART_FLOW_ERROR")
	}

	if d.deviceID != in.DeviceID {
		return nil, status("RESTART_FLOW_ERROR")
	}
	var match *code
	for _, c := range d.codes {
		if c.matches(in.UserInputCode) {
			match = c
			break
		}
	}
	if match != nil && !match.expired(now) {
		return d, nil
	}

	d.attempts++
	st := "INCORRECT_USER_INPUT_CODE_ERROR"
	if match != nil {
		st = "EXPIRED_USER_INPUT_CODE_ERROR"
	}
	resp := map[string]any{
		"status":                      st,
		"failedCodeInputAttemptCount": d.attempts,
		"maximumCodeInputAttempts":    s.MaxCodeInputAttempts,
	}
	if d.attempts >= s.MaxCodeInputAttempts {
		delete(s.devices, d.preAuthSessionID)
	}
	return nil, resp
}

func consumedDevice(d *device) map[string]any {
	out := map[string]any{
		"preAuthSessionId":            d.preAuthSessionID,
		"failedCodeInputAttemptCount": d.attempts,
	}
	if d.email != "" {
		out["email"] = d.email
	}
	if d.phone != "" {
		out["phoneNumber"] = d.phone
	}
	return out
}

func (s *Server) handleCheckCode(w http.ResponseWriter, r *http.Request) {
	var in consumeInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, failure := s.checkCredentials(tenantOf(r), in)
	if d == nil {
		writeJSON(w, failure)
		return
	}
	writeJSON(w, map[string]any{"status": "OK", "consumedDevice": consumedDevice(d)})
}

func (s *Server) handleConsumeCode(w http.ResponseWriter, r *http.Request) {
	var in consumeInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	d, failure := s.checkCredentials(tenantID, in)
	if d == nil {
		writeJSON(w, failure)
		return
	}
	delete(s.devices, d.preAuthSessionID)

	var lm *loginMethod
	for _, candidate := range s.loginMethods {
		if candidate.recipeID != recipe.IDPasswordless || !candidate.inTenant(tenantID) {
			continue
		}
		if (d.email != "" && recipe.NormaliseEmail(candidate.email) == recipe.NormaliseEmail(d.email)) ||
			(d.phone != "" && candidate.phone == d.phone) {
			lm = candidate
			break
		}
	}
	created := lm == nil
	if created {
		lm = s.newLoginMethod(recipe.IDPasswordless, tenantID)
		lm.email, lm.phone = d.email, d.phone
	}

	writeJSON(w, map[string]any{
		"status":         "OK",
		"createdNewUser": created,
		"user":           s.buildUser(s.userIDOf(lm.recipeUserID)),
		"recipeUserId":   lm.recipeUserID,
		"consumedDevice": consumedDevice(d),
	})
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	q := r.URL.Query()
	var found []*device
	for _, d := range s.devices {
		if d.tenantID != tenantID {
			continue
		}
		switch {
		case q.Get("deviceId") != "":
			if d.deviceID == q.Get("deviceId") {
				found = append(found, d)
			}
		case q.Get("preAuthSessionId") != "":
			if d.preAuthSessionID == q.Get("preAuthSessionId") {
				found = append(found, d)
			}
		case q.Get("email") != "":
			if d.email != "" && recipe.NormaliseEmail(d.email) == recipe.NormaliseEmail(q.Get("email")) {
				found = append(found, d)
			}
		case q.Get("phoneNumber") != "":
			if d.phone != "" && d.phone == q.Get("phoneNumber") {
				found = append(found, d)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].created < found[j].created })

	devices := []map[string]any{}
	for _, d := range found {
		codes := []map[string]any{}
		for _, c := range d.codes {
			codes = append(codes, map[string]any{
				"codeId":       c.codeID,
				"timeCreated":  c.timeCreated,
				"codeLifetime": c.lifetime,
			})
		}
		entry := consumedDevice(d)
		entry["deviceIdHash"] = deviceIDHash(d.deviceID)
		entry["codes"] = codes
		devices = append(devices, entry)
	}
	writeJSON(w, map[string]any{"status": "OK", "devices": devices})
}

func (s *Server) handleRevokeAllCodes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	for k, d := range s.devices {
		if d.tenantID != tenantID {
			continue
		}
		if (body.Email != "" && recipe.NormaliseEmail(d.email) == recipe.NormaliseEmail(body.Email)) ||
			(body.PhoneNumber != "" && d.phone == body.PhoneNumber) {
			delete(s.devices, k)
		}
	}
	writeJSON(w, status("OK"))
}

func (s *Server) handleRevokeCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CodeID           string `json:"codeId"`
		PreAuthSessionID string `json:"preAuthSessionId"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	if body.PreAuthSessionID != "" {
		if d := s.devices[body.PreAuthSessionID]; d != nil && d.tenantID == tenantID {
			delete(s.devices, body.PreAuthSessionID)
		}
		writeJSON(w, status("OK"))
		return
	}
	for k, d := range s.devices {
		if d.tenantID != tenantID {
			continue
		}
		for i, c := range d.codes {
			if c.codeID == body.CodeID {
				d.codes = append(d.codes[:i], d.codes[i+1:]...)
				break
			}
		}
		if len(d.codes) == 0 {
			delete(s.devices, k)
		}
	}
	writeJSON(w, status("OK"))
}

// ExpireCodes moves every code of the device back past its lifetime.
func (s *Server) ExpireCodes(preAuthSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.devices[preAuthSessionID]; d != nil {
		for _, c := range d.codes {
			c.timeCreated -= c.lifetime + 1
		}
	}
}

// DeviceCount returns how many devices are pending.
func (s *Server) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}
