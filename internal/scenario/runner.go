package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"hiddenclass/internal/engine"
	"hiddenclass/internal/frame"
	"hiddenclass/internal/ident"
	"hiddenclass/internal/object"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/testkit"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

// ErrExpectation marks a failed assertion command.
var ErrExpectation = errors.New("expectation failed")

// Runner executes scripts against one engine. Names bound by a script stay
// visible to the scripts run after it.
type Runner struct {
	e   *engine.Engine
	out io.Writer

	shapes  map[string]shape.Handle
	objects map[string]object.Handle
	args    map[string]*frame.Arguments
	caches  map[string]*object.PropertyCache

	// OnLine is called after each executed line with the count so far.
	OnLine func(done, total int)
	// Verify runs the shape invariant checks after every line.
	Verify bool
}

// NewRunner returns a runner printing command results to out.
func NewRunner(e *engine.Engine, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		e:       e,
		out:     out,
		shapes:  make(map[string]shape.Handle),
		objects: make(map[string]object.Handle),
		args:    make(map[string]*frame.Arguments),
		caches:  make(map[string]*object.PropertyCache),
	}
}

// Close releases every shape handle bound by the scripts.
func (r *Runner) Close() {
	for _, name := range slices.Sorted(maps.Keys(r.shapes)) {
		r.e.Shapes.Release(r.shapes[name])
	}
	clear(r.shapes)
}

type handler func(r *Runner, args []string) error

type command struct {
	min, max int // argument count bounds, max < 0 for unbounded
	usage    string
	run      handler
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"shape":     {1, 2, "shape NAME [PROTO]", (*Runner).cmdShape},
		"add":       {4, 6, "add NAME = SHAPE KEY [ATTRS] [SPECIFIC]", (*Runner).cmdAdd},
		"anon":      {4, 4, "anon NAME = SHAPE COUNT", (*Runner).cmdAnon},
		"remove":    {4, 4, "remove NAME = SHAPE KEY", (*Runner).cmdRemove},
		"proto":     {4, 4, "proto NAME = SHAPE VALUE", (*Runner).cmdProto},
		"attrs":     {5, 5, "attrs NAME = SHAPE KEY ATTRS", (*Runner).cmdAttrs},
		"despecify": {4, 4, "despecify NAME = SHAPE KEY", (*Runner).cmdDespecify},
		"dict":      {4, 4, "dict NAME = SHAPE cacheable|uncacheable", (*Runner).cmdDict},
		"expect":    {3, 3, "expect SHAPE KEY OFFSET|none", (*Runner).cmdExpect},
		"same":      {2, 2, "same SHAPE SHAPE", (*Runner).cmdSame},
		"differ":    {2, 2, "differ SHAPE SHAPE", (*Runner).cmdDiffer},
		"release":   {1, 1, "release SHAPE", (*Runner).cmdRelease},
		"print":     {1, 1, "print SHAPE", (*Runner).cmdPrint},
		"shapeof":   {3, 3, "shapeof NAME = OBJECT", (*Runner).cmdShapeOf},
		"new":       {1, 2, "new NAME [PROTO]", (*Runner).cmdNew},
		"fn":        {2, 3, "fn NAME ARITY [PROTO]", (*Runner).cmdFn},
		"set":       {3, 4, "set OBJECT KEY VALUE [ATTRS]", (*Runner).cmdSet},
		"get":       {2, 3, "get OBJECT KEY [VALUE|none]", (*Runner).cmdGet},
		"iget":      {3, 4, "iget SITE OBJECT KEY [VALUE|none]", (*Runner).cmdCachedGet},
		"del":       {2, 2, "del OBJECT KEY", (*Runner).cmdDel},
		"setproto":  {2, 2, "setproto OBJECT VALUE", (*Runner).cmdSetProto},
		"flatten":   {1, 1, "flatten OBJECT", (*Runner).cmdFlatten},
		"keys":      {1, -1, "keys OBJECT [/REGEXP/] [= KEY...]", (*Runner).cmdKeys},
		"call":      {2, -1, "call NAME PARAMS [ARG...]", (*Runner).cmdCall},
		"arg":       {2, 3, "arg NAME INDEX [VALUE|none]", (*Runner).cmdArg},
		"argset":    {3, 3, "argset NAME INDEX VALUE", (*Runner).cmdArgSet},
		"argdel":    {2, 2, "argdel NAME INDEX", (*Runner).cmdArgDel},
		"arglen":    {1, 2, "arglen NAME [NEWVALUE]", (*Runner).cmdArgLen},
		"tearoff":   {1, 1, "tearoff NAME", (*Runner).cmdTearOff},
		"return":    {0, 0, "return", (*Runner).cmdReturn},
		"check":     {0, 0, "check", (*Runner).cmdCheck},
	}
}

// Commands returns the usage line of every command, sorted.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for _, c := range commands {
		out = append(out, c.usage)
	}
	slices.Sort(out)
	return out
}

// Run executes s line by line, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, s *Script) error {
	span := trace.Begin(r.e.Tracer(), trace.ScopeEngine, "script", trace.ParentID(ctx)).
		WithExtra("script", s.Name)
	for i, ln := range s.Lines {
		if err := ctx.Err(); err != nil {
			span.End("canceled")
			return err
		}
		if err := r.exec(ln); err != nil {
			span.End("failed")
			return &Error{Script: s.Name, Line: ln.No, Text: ln.Text, Err: err}
		}
		if r.OnLine != nil {
			r.OnLine(i+1, len(s.Lines))
		}
	}
	span.End(fmt.Sprintf("%d lines", len(s.Lines)))
	return nil
}

// exec runs one line. Invariant panics raised by the engine layers become
// the line's error; any other panic propagates.
func (r *Runner) exec(ln Line) (err error) {
	defer func() {
		if p := recover(); p != nil {
			perr := invariantPanic(p)
			if perr == nil {
				panic(p)
			}
			trace.Point(r.e.Tracer(), trace.ScopeEngine, "invariant panic", perr.Error(), "line", strconv.Itoa(ln.No))
			err = perr
		}
	}()
	c, ok := commands[ln.Cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", ln.Cmd)
	}
	if len(ln.Args) < c.min || (c.max >= 0 && len(ln.Args) > c.max) {
		return fmt.Errorf("usage: %s", c.usage)
	}
	if err := c.run(r, ln.Args); err != nil {
		return err
	}
	if r.Verify {
		if err := testkit.CheckAllShapes(r.e.Shapes); err != nil {
			return fmt.Errorf("invariants: %w", err)
		}
	}
	return nil
}

// invariantPanic returns p as an error when it is a typed engine panic.
func invariantPanic(p any) error {
	switch e := p.(type) {
	case *shape.Error:
		return e
	case *object.Error:
		return e
	case *frame.Error:
		return e
	}
	return nil
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func expectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExpectation, fmt.Sprintf(format, args...))
}

// binding splits "NAME = SOURCE rest..." forms.
func binding(args []string) (string, string, []string, error) {
	if len(args) < 3 || args[1] != "=" {
		return "", "", nil, errors.New("expected NAME = SOURCE")
	}
	return args[0], args[2], args[3:], nil
}

func (r *Runner) shape(name string) (shape.Handle, error) {
	h, ok := r.shapes[name]
	if !ok {
		return shape.NoShape, fmt.Errorf("unknown shape %q", name)
	}
	return h, nil
}

// bind stores h under name, taking over the caller's reference.
func (r *Runner) bind(name string, h shape.Handle) {
	if old, ok := r.shapes[name]; ok {
		r.e.Shapes.Release(old)
	}
	r.shapes[name] = h
}

func (r *Runner) object(name string) (object.Handle, error) {
	o, ok := r.objects[name]
	if !ok {
		return 0, fmt.Errorf("unknown object %q", name)
	}
	return o, nil
}

func (r *Runner) arguments(name string) (*frame.Arguments, error) {
	a, ok := r.args[name]
	if !ok {
		return nil, fmt.Errorf("unknown arguments %q", name)
	}
	return a, nil
}

// value resolves a bound object name or parses a literal.
func (r *Runner) value(tok string) value.Value {
	if o, ok := r.objects[tok]; ok {
		if r.e.Shapes.TypeInfo(r.e.Heap.ShapeHandle(o)).Kind == shape.TypeFunction {
			return value.MakeFunction(uint64(o))
		}
		return value.MakeObject(uint64(o))
	}
	return value.Parse(tok)
}

func (r *Runner) key(name string) ident.Key { return r.e.Keys.Intern(name) }

func index(tok string) (int, error) {
	i, err := strconv.Atoi(tok)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("bad index %q", tok)
	}
	return i, nil
}

// checkValue compares got against an optional expectation token.
func (r *Runner) checkValue(what string, got value.Value, found bool, want []string) error {
	if len(want) == 0 {
		if found {
			r.printf("%s = %s", what, got)
		} else {
			r.printf("%s absent", what)
		}
		return nil
	}
	if want[0] == "none" {
		if found {
			return expectf("%s = %s, want absent", what, got)
		}
		return nil
	}
	if !found {
		return expectf("%s absent, want %s", what, want[0])
	}
	if w := r.value(want[0]); !got.Same(w) {
		return expectf("%s = %s, want %s", what, got, w)
	}
	return nil
}

func (r *Runner) cmdShape(args []string) error {
	proto := value.Null
	if len(args) == 2 {
		proto = r.value(args[1])
	}
	h := r.e.Shapes.CreateShape(proto, shape.TypeInfo{Kind: shape.TypeObject})
	r.bind(args[0], h)
	r.printf("%s = %s", args[0], h)
	return nil
}

func (r *Runner) cmdAdd(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	k := r.key(rest[0])
	attrs := proptable.None
	specific := value.Empty
	rest = rest[1:]
	if len(rest) > 0 {
		if a, err := proptable.ParseAttributes(rest[0]); err == nil {
			attrs = a
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		specific = r.value(rest[0])
	}
	h, off := r.e.Shapes.AddPropertyTransition(from, k, attrs, specific)
	r.bind(name, h)
	r.printf("%s = %s offset %d", name, h, off)
	return nil
}

func (r *Runner) cmdAnon(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(rest[0], 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("bad slot count %q", rest[0])
	}
	h := r.e.Shapes.AddAnonymousSlotsTransition(from, uint32(n))
	r.bind(name, h)
	r.printf("%s = %s size %d", name, h, r.e.Shapes.StorageSize(h))
	return nil
}

func (r *Runner) cmdRemove(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	k := r.key(rest[0])
	if _, ok := r.e.Shapes.Get(from, k); !ok {
		return fmt.Errorf("shape %s has no %q", src, rest[0])
	}
	h, off := r.e.Shapes.RemovePropertyTransition(from, k)
	r.bind(name, h)
	r.printf("%s = %s freed %d", name, h, off)
	return nil
}

func (r *Runner) cmdProto(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	h := r.e.Shapes.ChangePrototypeTransition(from, r.value(rest[0]))
	r.bind(name, h)
	r.printf("%s = %s", name, h)
	return nil
}

func (r *Runner) cmdAttrs(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	attrs, err := proptable.ParseAttributes(rest[1])
	if err != nil {
		return err
	}
	k := r.key(rest[0])
	if _, ok := r.e.Shapes.Get(from, k); !ok {
		return fmt.Errorf("shape %s has no %q", src, rest[0])
	}
	h := r.e.Shapes.AttributeChangeTransition(from, k, attrs)
	r.bind(name, h)
	r.printf("%s = %s", name, h)
	return nil
}

func (r *Runner) cmdDespecify(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	k := r.key(rest[0])
	if _, ok := r.e.Shapes.Get(from, k); !ok {
		return fmt.Errorf("shape %s has no %q", src, rest[0])
	}
	h := r.e.Shapes.DespecifyFunctionTransition(from, k)
	r.bind(name, h)
	r.printf("%s = %s thrash %d", name, h, r.e.Shapes.SpecificThrash(h))
	return nil
}

func (r *Runner) cmdDict(args []string) error {
	name, src, rest, err := binding(args)
	if err != nil {
		return err
	}
	from, err := r.shape(src)
	if err != nil {
		return err
	}
	var h shape.Handle
	switch rest[0] {
	case "cacheable":
		h = r.e.Shapes.ToCacheableDictionaryTransition(from)
	case "uncacheable":
		h = r.e.Shapes.ToUncacheableDictionaryTransition(from)
	default:
		return fmt.Errorf("unknown dictionary kind %q", rest[0])
	}
	r.bind(name, h)
	r.printf("%s = %s %s", name, h, r.e.Shapes.DictionaryKind(h))
	return nil
}

func (r *Runner) cmdExpect(args []string) error {
	h, err := r.shape(args[0])
	if err != nil {
		return err
	}
	got := r.e.Shapes.Offset(h, r.key(args[1]))
	if args[2] == "none" {
		if got >= 0 {
			return expectf("%s.%s at offset %d, want absent", args[0], args[1], got)
		}
		return nil
	}
	want, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad offset %q", args[2])
	}
	if got != want {
		return expectf("%s.%s at offset %d, want %d", args[0], args[1], got, want)
	}
	return nil
}

func (r *Runner) cmdSame(args []string) error {
	a, err := r.shape(args[0])
	if err != nil {
		return err
	}
	b, err := r.shape(args[1])
	if err != nil {
		return err
	}
	if a != b {
		return expectf("%s is %s, %s is %s", args[0], a, args[1], b)
	}
	return nil
}

func (r *Runner) cmdDiffer(args []string) error {
	a, err := r.shape(args[0])
	if err != nil {
		return err
	}
	b, err := r.shape(args[1])
	if err != nil {
		return err
	}
	if a == b {
		return expectf("%s and %s are both %s", args[0], args[1], a)
	}
	return nil
}

func (r *Runner) cmdRelease(args []string) error {
	h, err := r.shape(args[0])
	if err != nil {
		return err
	}
	r.e.Shapes.Release(h)
	delete(r.shapes, args[0])
	return nil
}

func (r *Runner) cmdPrint(args []string) error {
	h, err := r.shape(args[0])
	if err != nil {
		return err
	}
	in := r.e.Shapes.Info(h)
	names := make([]string, 0, 8)
	for _, k := range r.e.Shapes.PropertyNames(h, shape.IncludeDontEnum) {
		names = append(names, r.e.Keys.Name(k))
	}
	r.printf("%s %s depth=%d size=%d/%d refs=%d %s {%s}",
		args[0], h, in.Depth, in.Size, in.Capacity, in.RefCount, in.State, strings.Join(names, ", "))
	return nil
}

func (r *Runner) cmdShapeOf(args []string) error {
	name, src, _, err := binding(args)
	if err != nil {
		return err
	}
	o, err := r.object(src)
	if err != nil {
		return err
	}
	h := r.e.Shapes.Retain(r.e.Heap.ShapeHandle(o))
	r.bind(name, h)
	r.printf("%s = %s", name, h)
	return nil
}

func (r *Runner) cmdNew(args []string) error {
	proto := value.Null
	if len(args) == 2 {
		proto = r.value(args[1])
	}
	r.objects[args[0]] = r.e.Heap.New(proto)
	return nil
}

func (r *Runner) cmdFn(args []string) error {
	arity, err := index(args[1])
	if err != nil {
		return err
	}
	proto := value.Null
	if len(args) == 3 {
		proto = r.value(args[2])
	}
	r.objects[args[0]] = r.e.Heap.NewFunction(proto, arity)
	return nil
}

func (r *Runner) cmdSet(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	attrs := proptable.None
	if len(args) == 4 {
		if attrs, err = proptable.ParseAttributes(args[3]); err != nil {
			return err
		}
	}
	return r.e.Heap.Put(o, r.key(args[1]), r.value(args[2]), attrs)
}

func (r *Runner) cmdGet(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	v, ok := r.e.Heap.Lookup(o, r.key(args[1]))
	return r.checkValue(args[0]+"."+args[1], v, ok, args[2:])
}

func (r *Runner) cmdCachedGet(args []string) error {
	c, ok := r.caches[args[0]]
	if !ok {
		c = r.e.NewPropertyCache()
		r.caches[args[0]] = c
	}
	o, err := r.object(args[1])
	if err != nil {
		return err
	}
	v, found := r.e.Heap.CachedGet(c, o, r.key(args[2]))
	if len(args) == 3 {
		r.printf("%s.%s = %s via %s", args[1], args[2], v, c)
		return nil
	}
	return r.checkValue(args[1]+"."+args[2], v, found, args[3:])
}

func (r *Runner) cmdDel(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	return r.e.Heap.Delete(o, r.key(args[1]))
}

func (r *Runner) cmdSetProto(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	return r.e.Heap.SetPrototype(o, r.value(args[1]))
}

func (r *Runner) cmdFlatten(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	r.e.Heap.Flatten(o)
	return nil
}

func (r *Runner) cmdKeys(args []string) error {
	o, err := r.object(args[0])
	if err != nil {
		return err
	}
	rest := args[1:]
	var filter *regexp2.Regexp
	if len(rest) > 0 && len(rest[0]) >= 2 && strings.HasPrefix(rest[0], "/") && strings.HasSuffix(rest[0], "/") {
		filter, err = regexp2.Compile(rest[0][1:len(rest[0])-1], regexp2.ECMAScript)
		if err != nil {
			return fmt.Errorf("key filter: %w", err)
		}
		rest = rest[1:]
	}
	var names []string
	for _, name := range r.e.Heap.OwnKeyNames(o) {
		if filter != nil {
			ok, err := filter.MatchString(name)
			if err != nil {
				return fmt.Errorf("key filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		names = append(names, name)
	}
	if len(rest) == 0 {
		r.printf("keys %s: %s", args[0], strings.Join(names, " "))
		return nil
	}
	if rest[0] != "=" {
		return errors.New("expected = before the expected keys")
	}
	if !slices.Equal(names, rest[1:]) {
		return expectf("keys of %s are [%s], want [%s]", args[0], strings.Join(names, " "), strings.Join(rest[1:], " "))
	}
	return nil
}

func (r *Runner) cmdCall(args []string) error {
	params, err := index(args[1])
	if err != nil {
		return err
	}
	vals := make([]value.Value, len(args)-2)
	for i, tok := range args[2:] {
		vals[i] = r.value(tok)
	}
	fn := r.e.Heap.NewFunction(value.Null, params)
	_, a, err := r.e.Call(fn, value.Undefined, vals)
	if err != nil {
		return err
	}
	r.args[args[0]] = a
	heap := ""
	if a.ExtrasOnHeap() {
		heap = " extras on heap"
	}
	r.printf("%s: params=%d args=%d%s", args[0], a.NumParameters(), a.NumArguments(), heap)
	return nil
}

func (r *Runner) cmdArg(args []string) error {
	a, err := r.arguments(args[0])
	if err != nil {
		return err
	}
	i, err := index(args[1])
	if err != nil {
		return err
	}
	v, ok := a.Get(i)
	return r.checkValue(fmt.Sprintf("%s[%d]", args[0], i), v, ok, args[2:])
}

func (r *Runner) cmdArgSet(args []string) error {
	a, err := r.arguments(args[0])
	if err != nil {
		return err
	}
	i, err := index(args[1])
	if err != nil {
		return err
	}
	return a.Set(i, r.value(args[2]))
}

func (r *Runner) cmdArgDel(args []string) error {
	a, err := r.arguments(args[0])
	if err != nil {
		return err
	}
	i, err := index(args[1])
	if err != nil {
		return err
	}
	return a.Delete(i)
}

func (r *Runner) cmdArgLen(args []string) error {
	a, err := r.arguments(args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		return a.SetLength(r.value(args[1]))
	}
	r.printf("%s.length = %s", args[0], a.Length())
	return nil
}

func (r *Runner) cmdTearOff(args []string) error {
	a, err := r.arguments(args[0])
	if err != nil {
		return err
	}
	a.TearOff()
	return nil
}

func (r *Runner) cmdReturn([]string) error {
	if r.e.Registers.Depth() == 0 {
		return errors.New("return without an active call")
	}
	r.e.Return()
	return nil
}

func (r *Runner) cmdCheck([]string) error {
	if err := testkit.CheckAllShapes(r.e.Shapes); err != nil {
		return err
	}
	objs := slices.Sorted(maps.Values(r.objects))
	return testkit.CheckObjectInvariants(r.e.Heap, objs...)
}
