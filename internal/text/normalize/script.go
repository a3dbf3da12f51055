package normalize

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
)

// scriptTimeout bounds a single classify call inside the VM.
const scriptTimeout = 50 * time.Millisecond

// ScriptClassifier runs a user-supplied JavaScript classify(line) function
// inside a sandboxed goja VM. The script sees no require, process, module,
// or timers. Unknown or failing results fall back to the wrapped classifier.
type ScriptClassifier struct {
	vm       *goja.Runtime
	classify goja.Callable
	fallback Classifier
	logger   *logging.Logger
	mu       sync.Mutex
}

// NewScriptClassifier loads a script file that must define a global
// function classify(line) returning one of the type names.
func NewScriptClassifier(path string, fallback Classifier, logger *logging.Logger) (*ScriptClassifier, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier script: %w", err)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)

	// Remove dangerous globals
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})

	if _, err := vm.RunString(string(src)); err != nil {
		return nil, fmt.Errorf("evaluate classifier script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("classify"))
	if !ok {
		return nil, fmt.Errorf("classifier script %s does not define classify(line)", path)
	}

	if fallback == nil {
		fallback = DefaultRules()
	}

	return &ScriptClassifier{
		vm:       vm,
		classify: fn,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Classify calls into the VM under a mutex; goja runtimes are not safe for
// concurrent use. Script errors, timeouts, and unknown type names defer to
// the fallback classifier.
func (s *ScriptClassifier) Classify(line string) Type {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := time.AfterFunc(scriptTimeout, func() {
		s.vm.Interrupt("classify timeout exceeded")
	})

	val, err := s.classify(goja.Undefined(), s.vm.ToValue(line))
	timer.Stop()
	s.vm.ClearInterrupt()

	if err != nil {
		if s.logger != nil {
			s.logger.Warn("classifier script failed, using fallback", zap.Error(err))
		}
		return s.fallback.Classify(line)
	}

	t, ok := ParseType(val.String())
	if !ok {
		return s.fallback.Classify(line)
	}
	return t
}
