package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func request(method, path string, body any, authed bool) *http.Response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, httpSrv.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	if authed {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func bodyJSON(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("HTTP API", func() {
	Describe("authentication", func() {
		It("rejects requests without a key", func() {
			resp := request(http.MethodGet, "/sessions", nil, false)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("serves /health without a key", func() {
			resp := request(http.MethodGet, "/health", nil, false)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("chat", func() {
		It("answers with the aggregated engine response", func() {
			resp := request(http.MethodPost, "/chat", map[string]any{
				"session_id": "ci-chat",
				"message":    "hello",
			}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := bodyJSON(resp)
			Expect(body["response"]).To(Equal("scripted reply"))
			Expect(body["session_id"]).To(Equal("ci-chat"))
		})

		It("records the conversation in the session", func() {
			resp := request(http.MethodPost, "/chat", map[string]any{
				"session_id": "ci-history",
				"message":    "first question",
			}, true)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = request(http.MethodGet, "/sessions/ci-history", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := bodyJSON(resp)
			turns := body["turns"].([]any)
			Expect(turns).To(HaveLen(2))
		})

		It("rejects bypassPermissions when the flag is off", func() {
			resp := request(http.MethodPost, "/chat", map[string]any{
				"session_id": "ci-bypass",
				"message":    "hello",
				"context":    map[string]any{"permission_mode": "bypassPermissions"},
			}, true)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})

	Describe("streaming", func() {
		It("terminates the SSE stream with a done event", func() {
			resp := request(http.MethodPost, "/chat/stream", map[string]any{
				"session_id": "ci-stream",
				"message":    "hello",
			}, true)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/event-stream"))

			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("event: done"))
		})
	})

	Describe("extensions", func() {
		It("round-trips a skill", func() {
			resp := request(http.MethodPost, "/skills", map[string]any{
				"id":       "ci-skill",
				"manifest": "---\nname: ci-skill\ndescription: CI skill.\n---\n",
			}, true)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = request(http.MethodGet, "/skills/ci-skill", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := bodyJSON(resp)
			Expect(body["description"]).To(Equal("CI skill."))

			resp = request(http.MethodDelete, "/skills/ci-skill", nil, true)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("resolves a command through chat", func() {
			resp := request(http.MethodPost, "/commands", map[string]any{
				"id":       "ci-echo",
				"template": "Echo: $ARGUMENTS\n",
			}, true)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = request(http.MethodPost, "/chat", map[string]any{
				"session_id": fmt.Sprintf("ci-cmd-%d", GinkgoRandomSeed()),
				"message":    "payload",
				"command":    "ci-echo",
			}, true)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("workspace", func() {
		It("writes, reads and deletes a file", func() {
			req, err := http.NewRequest(http.MethodPut, httpSrv.URL+"/workspace/ci/notes.txt",
				bytes.NewReader([]byte("ci content")))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-API-Key", apiKey)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = request(http.MethodGet, "/workspace/ci/notes.txt", nil, true)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("ci content"))

			del := request(http.MethodDelete, "/workspace/ci/notes.txt", nil, true)
			del.Body.Close()
			Expect(del.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
