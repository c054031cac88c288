// Package transportmock provides a hand-authored, mockgen-shaped mock of
// transport.Transport for tests that need to assert call sequencing or
// argument matching beyond what a small hand-rolled fake conveniently
// expresses (spec.md §8's transport-failure scenarios).
package transportmock

import (
	"context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// MockTransport is a mock of the transport.Transport interface.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

// Init mocks base method.
func (m *MockTransport) Init(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Init", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

// Init indicates an expected call of Init.
func (mr *MockTransportMockRecorder) Init(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Init", reflect.TypeOf((*MockTransport)(nil).Init), ctx)
}

// Dispose mocks base method.
func (m *MockTransport) Dispose(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Dispose", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

// Dispose indicates an expected call of Dispose.
func (mr *MockTransportMockRecorder) Dispose(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Dispose", reflect.TypeOf((*MockTransport)(nil).Dispose), ctx)
}

// IsReady mocks base method.
func (m *MockTransport) IsReady() bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "IsReady")
	ret0, _ := ret[0].(bool)
	return ret0
}

// IsReady indicates an expected call of IsReady.
func (mr *MockTransportMockRecorder) IsReady() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "IsReady", reflect.TypeOf((*MockTransport)(nil).IsReady))
}

// Send mocks base method.
func (m *MockTransport) Send(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Send", ctx, frame, timeoutMs)
	ret0, _ := ret[0].(*protocol.ResponseFrame)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Send indicates an expected call of Send.
func (mr *MockTransportMockRecorder) Send(ctx, frame, timeoutMs interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*MockTransport)(nil).Send), ctx, frame, timeoutMs)
}
