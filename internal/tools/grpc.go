package tools

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ConnectorExecuteMethod: unary метод внешнего коннектора.
// Запрос и ответ передаются как google.protobuf.Struct.
const ConnectorExecuteMethod = "/connector.v1.ConnectorService/Execute"

// GRPCHandler исполняет инструмент во внешнем процессе-коннекторе.
type GRPCHandler struct {
	conn    grpc.ClientConnInterface
	tool    string
	timeout time.Duration
}

// NewGRPCHandler создает экземпляр адаптера поверх готового соединения
func NewGRPCHandler(conn grpc.ClientConnInterface, tool string, timeout time.Duration) *GRPCHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCHandler{conn: conn, tool: tool, timeout: timeout}
}

// DialConnector открывает соединение к коннектору (локальный sidecar, без TLS)
func DialConnector(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial connector %s: %w", target, err)
	}
	return conn, nil
}

// Execute реализует интерфейс Handler
func (h *GRPCHandler) Execute(ctx context.Context, call Call) (any, error) {
	// 1. Конвертируем параметры в Protobuf Struct
	payload, err := normalize(call.Params)
	if err != nil {
		return nil, err
	}
	params, _ := payload.(map[string]any)
	req, err := structpb.NewStruct(map[string]any{
		"tool":     h.tool,
		"action":   call.Action,
		"payload":  jsonNumbersToFloat(params),
		"metadata": map[string]any{"source": "spaceai-assistant"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// 2. Защитный таймаут на уровне вызова, даже если обертка задает свой
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// 3. Выполняем gRPC вызов к коннектору
	resp := &structpb.Struct{}
	if err := h.conn.Invoke(ctx, ConnectorExecuteMethod, req, resp); err != nil {
		return nil, fmt.Errorf("connector call failed: %w", err)
	}

	// 4. Проверяем статус внутри ответа
	out := resp.AsMap()
	if code, ok := out["status_code"].(float64); ok && code != 0 {
		return nil, fmt.Errorf("connector returned error [%d]: %v", int(code), out["error_message"])
	}
	if result, ok := out["result"]; ok {
		return result, nil
	}
	return out, nil
}

// structpb не принимает json.Number
func jsonNumbersToFloat(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = jsonNumbersToFloat(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = jsonNumbersToFloat(val)
		}
		return t
	case interface{ Float64() (float64, error) }:
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
