// Package kongtest 提供内存版 Kong Admin API，用于测试 kong.Client 和同步流程。
package kongtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ceyewan/kongsync/kong"
)

// Server 内存版 Admin API，支持 services/upstreams/targets 的增删查、
// 按 tags 过滤和 offset 分页
type Server struct {
	*httptest.Server

	// Token 非空时要求请求携带相同的 Kong-Admin-Token
	Token string

	mu        sync.Mutex
	services  []kong.ServiceObject
	upstreams []kong.UpstreamObject
	targets   map[string][]kong.TargetObject // upstream id -> targets
	requests  []string
	failures  []int
}

// NewServer 启动服务器，测试结束时自动关闭
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{targets: make(map[string][]kong.TargetObject)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FailNext 让接下来的请求依次返回给定状态码
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Requests 返回已收到的请求，格式 "METHOD /escaped/path"
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Services 返回当前所有 Service
func (s *Server) Services() []kong.ServiceObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.services)
}

// Upstreams 返回当前所有 Upstream
func (s *Server) Upstreams() []kong.UpstreamObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.upstreams)
}

// Targets 返回 Upstream（ID 或名字）下的 Target
func (s *Server) Targets(upstream string) []kong.TargetObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.findUpstream(upstream)
	if !ok {
		return nil
	}
	return slices.Clone(s.targets[up.ID])
}

// AddService 直接写入一个 Service，用于准备其他同步源的数据
func (s *Server) AddService(obj kong.ServiceObject) kong.ServiceObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	s.services = append(s.services, obj)
	return obj
}

// AddUpstream 直接写入一个 Upstream
func (s *Server) AddUpstream(obj kong.UpstreamObject) kong.UpstreamObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	s.upstreams = append(s.upstreams, obj)
	return obj
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.EscapedPath())

	if s.Token != "" && r.Header.Get("Kong-Admin-Token") != s.Token {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		writeError(w, status, "injected failure")
		return
	}

	segs := splitPath(r.URL.EscapedPath())
	switch {
	case len(segs) == 1 && segs[0] == "services":
		collection(w, r, &s.services, serviceAccessor)
	case len(segs) == 2 && segs[0] == "services":
		item(w, r, &s.services, serviceAccessor, segs[1], nil)
	case len(segs) == 1 && segs[0] == "upstreams":
		collection(w, r, &s.upstreams, upstreamAccessor)
	case len(segs) == 2 && segs[0] == "upstreams":
		item(w, r, &s.upstreams, upstreamAccessor, segs[1], func(id string) { delete(s.targets, id) })
	case len(segs) >= 3 && segs[0] == "upstreams" && segs[2] == "targets":
		s.targetRoute(w, r, segs)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) targetRoute(w http.ResponseWriter, r *http.Request, segs []string) {
	up, ok := s.findUpstream(unescape(segs[1]))
	if !ok {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	list := s.targets[up.ID]

	switch {
	case len(segs) == 3 && r.Method == http.MethodGet:
		writePage(w, r, list, targetAccessor)
	case len(segs) == 3 && r.Method == http.MethodPost:
		var t kong.TargetObject
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil || t.Target == "" {
			writeError(w, http.StatusBadRequest, "schema violation (target: required field missing)")
			return
		}
		if slices.ContainsFunc(list, func(o kong.TargetObject) bool { return o.Target == t.Target }) {
			writeError(w, http.StatusConflict, "unique constraint violation")
			return
		}
		t.ID = uuid.NewString()
		s.targets[up.ID] = append(list, t)
		writeJSON(w, http.StatusCreated, t)
	case len(segs) == 4 && r.Method == http.MethodDelete:
		key := unescape(segs[3])
		idx := slices.IndexFunc(list, func(o kong.TargetObject) bool { return o.ID == key || o.Target == key })
		if idx < 0 {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		s.targets[up.ID] = slices.Delete(list, idx, idx+1)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) findUpstream(key string) (kong.UpstreamObject, bool) {
	for _, up := range s.upstreams {
		if up.ID == key || up.Name == key {
			return up, true
		}
	}
	return kong.UpstreamObject{}, false
}

type accessor[T any] struct {
	id      func(*T) *string
	name    func(T) string
	tags    func(T) []string
	patch   func(dst *T, src T)
	require func(T) bool
}

var serviceAccessor = accessor[kong.ServiceObject]{
	id:   func(o *kong.ServiceObject) *string { return &o.ID },
	name: func(o kong.ServiceObject) string { return o.Name },
	tags: func(o kong.ServiceObject) []string { return o.Tags },
	patch: func(dst *kong.ServiceObject, src kong.ServiceObject) {
		if src.Host != "" {
			dst.Host = src.Host
		}
		if src.Port != 0 {
			dst.Port = src.Port
		}
		if src.Protocol != "" {
			dst.Protocol = src.Protocol
		}
		if src.Tags != nil {
			dst.Tags = src.Tags
		}
	},
	require: func(o kong.ServiceObject) bool { return o.Host != "" },
}

var upstreamAccessor = accessor[kong.UpstreamObject]{
	id:      func(o *kong.UpstreamObject) *string { return &o.ID },
	name:    func(o kong.UpstreamObject) string { return o.Name },
	tags:    func(o kong.UpstreamObject) []string { return o.Tags },
	patch:   func(dst *kong.UpstreamObject, src kong.UpstreamObject) {},
	require: func(o kong.UpstreamObject) bool { return o.Name != "" },
}

var targetAccessor = accessor[kong.TargetObject]{
	tags: func(o kong.TargetObject) []string { return o.Tags },
}

func collection[T any](w http.ResponseWriter, r *http.Request, list *[]T, acc accessor[T]) {
	switch r.Method {
	case http.MethodGet:
		writePage(w, r, *list, acc)
	case http.MethodPost:
		var obj T
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil || !acc.require(obj) {
			writeError(w, http.StatusBadRequest, "schema violation")
			return
		}
		name := acc.name(obj)
		if name != "" && slices.ContainsFunc(*list, func(o T) bool { return acc.name(o) == name }) {
			writeError(w, http.StatusConflict, "UNIQUE violation detected on '{name=\""+name+"\"}'")
			return
		}
		*acc.id(&obj) = uuid.NewString()
		*list = append(*list, obj)
		writeJSON(w, http.StatusCreated, obj)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func item[T any](w http.ResponseWriter, r *http.Request, list *[]T, acc accessor[T], key string, onDelete func(id string)) {
	key = unescape(key)
	idx := slices.IndexFunc(*list, func(o T) bool { return *acc.id(&o) == key || acc.name(o) == key })

	switch r.Method {
	case http.MethodGet:
		if idx < 0 {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		writeJSON(w, http.StatusOK, (*list)[idx])
	case http.MethodPatch:
		if idx < 0 {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		var patch T
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		acc.patch(&(*list)[idx], patch)
		writeJSON(w, http.StatusOK, (*list)[idx])
	case http.MethodDelete:
		if idx < 0 {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		id := *acc.id(&(*list)[idx])
		*list = slices.Delete(*list, idx, idx+1)
		if onDelete != nil {
			onDelete(id)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// writePage 按 tags 过滤后分页，offset 是结果中的下标
func writePage[T any](w http.ResponseWriter, r *http.Request, list []T, acc accessor[T]) {
	q := r.URL.Query()

	filtered := list
	if tags := q.Get("tags"); tags != "" {
		want := strings.Split(tags, ",")
		filtered = nil
		for _, o := range list {
			if hasAll(acc.tags(o), want) {
				filtered = append(filtered, o)
			}
		}
	}

	size, err := strconv.Atoi(q.Get("size"))
	if err != nil || size <= 0 {
		size = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	offset = min(max(offset, 0), len(filtered))
	end := min(offset+size, len(filtered))

	resp := map[string]any{"data": nonNil(filtered[offset:end])}
	if end < len(filtered) {
		next := url.Values{}
		next.Set("offset", strconv.Itoa(end))
		next.Set("size", strconv.Itoa(size))
		if tags := q.Get("tags"); tags != "" {
			next.Set("tags", tags)
		}
		resp["next"] = r.URL.Path + "?" + next.Encode()
	} else {
		resp["next"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func hasAll(have, want []string) bool {
	for _, t := range want {
		if !slices.Contains(have, t) {
			return false
		}
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

func unescape(seg string) string {
	if s, err := url.PathUnescape(seg); err == nil {
		return s
	}
	return seg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
