package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry: потокобезопасная коллекция инструментов по имени.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	ks     *KillSwitch
	logger *zap.Logger
}

// NewRegistry создает реестр. ks может быть nil — тогда инструменты нельзя отключить.
func NewRegistry(ks *KillSwitch, logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		ks:     ks,
		logger: logger.Named("registry"),
	}
}

// Register проверяет дескриптор и компилирует схему параметров.
func (r *Registry) Register(t Tool) error {
	if err := validateDescriptor(&t); err != nil {
		return err
	}
	schema, err := compileSchema(&t)
	if err != nil {
		return fmt.Errorf("%w: %s: schema: %v", domain.ErrToolInvalid, t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", domain.ErrToolDuplicate, t.Name)
	}
	r.tools[t.Name] = &entry{tool: t, schema: schema}

	r.logger.Debug("tool registered",
		zap.String("tool", t.Name),
		zap.String("category", t.Category),
		zap.String("risk", string(t.RiskLevel)),
	)
	return nil
}

func validateDescriptor(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", domain.ErrToolInvalid)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: %s: no handler", domain.ErrToolInvalid, t.Name)
	}
	if _, err := domain.ParseRiskLevel(string(t.RiskLevel)); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrToolInvalid, t.Name, err)
	}
	if t.Category == "" {
		t.Category = "general"
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("%w: %s: bad or duplicate parameter %q", domain.ErrToolInvalid, t.Name, p.Name)
		}
		seen[p.Name] = true
		if !validTypes[p.Type] {
			return fmt.Errorf("%w: %s: parameter %s has unknown type %q", domain.ErrToolInvalid, t.Name, p.Name, p.Type)
		}
	}
	return nil
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// IsEnabled инструмент зарегистрирован и не отключен kill-switch'ем
func (r *Registry) IsEnabled(name string) bool {
	if _, ok := r.Get(name); !ok {
		return false
	}
	return r.ks == nil || !r.ks.IsDisabled(name)
}

func (r *Registry) EnableTool(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, true)
}

func (r *Registry) DisableTool(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, false)
}

func (r *Registry) setEnabled(ctx context.Context, name string, enabled bool) error {
	if _, ok := r.Get(name); !ok {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	if r.ks == nil {
		return errors.New("kill-switch is not configured")
	}
	return r.ks.Set(ctx, name, !enabled)
}

// ListTools: инструменты по имени; пустая category означает все
func (r *Registry) ListTools(category string, enabledOnly bool) []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		if category != "" && e.tool.Category != category {
			continue
		}
		out = append(out, e.tool)
	}
	r.mu.RUnlock()

	if enabledOnly && r.ks != nil {
		filtered := out[:0]
		for _, t := range out {
			if !r.ks.IsDisabled(t.Name) {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	set := make(map[string]struct{})
	for _, e := range r.tools {
		set[e.tool.Category] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SearchTools ищет подстроку в имени, описании и категории без учета регистра
func (r *Registry) SearchTools(query string) []Tool {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Tool
	for _, t := range r.ListTools("", false) {
		if q == "" ||
			strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Category), q) {
			out = append(out, t)
		}
	}
	return out
}

// ToolHelp — человекочитаемая справка по инструменту
func (r *Registry) ToolHelp(name string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, risk %s)\n%s\n", t.Name, t.Category, t.RiskLevel, t.Description)
	if len(t.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(t.RequiredCapabilities, ", "))
	}
	if len(t.Parameters) > 0 {
		b.WriteString("Parameters:\n")
		for _, p := range t.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "  %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
			if p.Default != nil {
				fmt.Fprintf(&b, " [default: %v]", p.Default)
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, " [one of: %v]", p.Enum)
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// GetToolSchemas описания включенных инструментов для function-calling контекста модели
func (r *Registry) GetToolSchemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolSchema, 0, len(r.tools))
	for _, e := range r.tools {
		if r.ks != nil && r.ks.IsDisabled(e.tool.Name) {
			continue
		}
		out = append(out, domain.ToolSchema{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			Parameters:  e.tool.jsonSchema(),
			Metadata: domain.ToolMetadata{
				Category:            e.tool.Category,
				RiskLevel:           e.tool.RiskLevel,
				RequiredPermissions: e.tool.RequiredCapabilities,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteTool: валидация -> разрешение (если объявлены capabilities) -> обработчик.
// Отказ в разрешении возвращается с RequiresPermission, обработчик при этом не вызывается.
func (r *Registry) ExecuteTool(ctx context.Context, name string, checker PermissionChecker, call Call) (resp domain.ToolResponse) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ToolResponse{Error: fmt.Sprintf("tool '%s' not found", name)}
	}
	t := e.tool

	if r.ks != nil && r.ks.IsDisabled(name) {
		return domain.ToolResponse{Error: fmt.Sprintf("tool '%s' is disabled", name)}
	}

	// 1. Схема
	params := t.withDefaults(call.Params)
	doc, err := normalize(params)
	if err == nil {
		err = e.schema.Validate(doc)
	}
	if err != nil {
		return domain.ToolResponse{Error: fmt.Sprintf("%v: %v", domain.ErrValidation, err)}
	}

	// 2. Разрешение
	if len(t.RequiredCapabilities) > 0 {
		req := buildRequest(t, call, params)
		level := domain.PermissionDeny
		if checker != nil {
			level = checker.RequestPermission(ctx, req)
		}
		if level == domain.PermissionDeny {
			r.logger.Info("tool call denied",
				zap.String("tool", name),
				zap.String("action", req.Action),
				zap.String("signature", req.Signature()),
			)
			return domain.ToolResponse{
				Error:              fmt.Sprintf("%v: %s:%s", domain.ErrPermissionDenied, name, req.Action),
				RequiresPermission: true,
				PermissionRequest:  &req,
			}
		}
	}

	// 3. Обработчик. Паника превращается в ошибку шага
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", zap.String("tool", name), zap.Any("panic", rec))
			resp = domain.ToolResponse{Error: fmt.Sprintf("tool '%s' failed: %v", name, rec)}
		}
	}()

	call.Params = params
	result, err := t.Handler.Execute(ctx, call)
	if err != nil {
		return domain.ToolResponse{Error: err.Error()}
	}
	return domain.ToolResponse{Success: true, Result: result}
}

func buildRequest(t Tool, call Call, params map[string]any) domain.PermissionRequest {
	action := call.Action
	if action == "" {
		action = "execute_" + t.Name
	}
	desc := call.Description
	if desc == "" {
		desc = "Execute " + t.Description
	}
	str := make(map[string]string, len(params))
	for k, v := range params {
		str[k] = fmt.Sprint(v)
	}
	return domain.PermissionRequest{
		ToolName:             t.Name,
		Action:               action,
		Description:          desc,
		RiskLevel:            t.RiskLevel,
		RequiredCapabilities: t.RequiredCapabilities,
		Parameters:           str,
		UserContext:          call.UserContext,
	}
}
