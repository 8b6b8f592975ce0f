package http

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/config"
	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/inference"
	"scholarpass/internal/middleware"
	"scholarpass/internal/services"
	ws "scholarpass/internal/websocket"
	api "scholarpass/pkg/contracts/api/v1"
	"scholarpass/pkg/contracts/events"
)

type rawMessage struct {
	Type events.MessageType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

func dialStream(t *testing.T, analyzer Analyzer) *websocket.Conn {
	t.Helper()
	eh := apierrors.NewErrorHandler(testLogger(), false)
	h := NewStreamHandler(analyzer, middleware.NewValidator(1<<10), eh,
		ws.NewUpgrader(config.WebSocketConfig{}, nil, testLogger()),
		ws.Options{MaxMessageBytes: 1 << 16}, nil, testLogger())

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	var msg rawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStreamHandler_ProgressThenResult(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(in services.AnalysisInput) bool {
		return in.Subject == "高等数学"
	}), mock.Anything).Return(&api.AnalysisResponse{Subject: "高等数学", Explanation: "## 解析"}, nil)

	conn := dialStream(t, analyzer)
	require.NoError(t, conn.WriteJSON(api.AnalysisStreamRequest{
		Subject:     "高等数学",
		ImageBase64: "data:image/jpeg;base64,aW1n",
	}))

	progress := readMessage(t, conn)
	assert.Equal(t, events.MessageTypeProgress, progress.Type)
	var p events.Progress
	require.NoError(t, json.Unmarshal(progress.Data, &p))
	assert.Equal(t, 30, p.Percent)

	result := readMessage(t, conn)
	require.Equal(t, events.MessageTypeResult, result.Type)
	var resp api.AnalysisResponse
	require.NoError(t, json.Unmarshal(result.Data, &resp))
	assert.Equal(t, "## 解析", resp.Explanation)
	analyzer.AssertExpectations(t)
}

func TestStreamHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		setupMock  func(m *MockAnalyzer)
		wantCode   string
		wantStatus int
	}{
		{
			name:       "malformed json",
			payload:    `{"subject":`,
			setupMock:  func(m *MockAnalyzer) {},
			wantCode:   "INVALID_REQUEST",
			wantStatus: 400,
		},
		{
			name:       "missing image",
			payload:    `{"subject":"高等数学"}`,
			setupMock:  func(m *MockAnalyzer) {},
			wantCode:   "VALIDATION_FAILED",
			wantStatus: 400,
		},
		{
			name:       "bad base64",
			payload:    `{"subject":"高等数学","image_base64":"***"}`,
			setupMock:  func(m *MockAnalyzer) {},
			wantCode:   "VALIDATION_FAILED",
			wantStatus: 400,
		},
		{
			name:    "unreadable photo",
			payload: `{"subject":"高等数学","image_base64":"aW1n"}`,
			setupMock: func(m *MockAnalyzer) {
				m.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("recognize: %w", inference.ErrUnreadableImage))
			},
			wantCode:   "IMAGE_UNREADABLE",
			wantStatus: 422,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := new(MockAnalyzer)
			tt.setupMock(analyzer)
			conn := dialStream(t, analyzer)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))

			msg := readMessage(t, conn)
			for msg.Type == events.MessageTypeProgress {
				msg = readMessage(t, conn)
			}
			require.Equal(t, events.MessageTypeError, msg.Type)
			var data events.ErrorData
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			assert.Equal(t, tt.wantCode, data.Code)
			assert.Equal(t, tt.wantStatus, data.Status)
			assert.NotEmpty(t, data.Message)
			analyzer.AssertExpectations(t)
		})
	}
}
