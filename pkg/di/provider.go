package di

// DefaultDependencyProvider registers built-in services. RegisterDefaults
// runs once on the root container; RegisterTestRunnerDefaults runs once on
// every new scenario scope.
type DefaultDependencyProvider interface {
	RegisterDefaults(c *Container)
	RegisterTestRunnerDefaults(c *Container)
}

// ProviderFuncs adapts two functions to a DefaultDependencyProvider. Nil
// functions are skipped.
type ProviderFuncs struct {
	Defaults           func(c *Container)
	TestRunnerDefaults func(c *Container)
}

func (p ProviderFuncs) RegisterDefaults(c *Container) {
	if p.Defaults != nil {
		p.Defaults(c)
	}
}

func (p ProviderFuncs) RegisterTestRunnerDefaults(c *Container) {
	if p.TestRunnerDefaults != nil {
		p.TestRunnerDefaults(c)
	}
}

// Chain runs several providers in order.
type Chain []DefaultDependencyProvider

func (ch Chain) RegisterDefaults(c *Container) {
	for _, p := range ch {
		p.RegisterDefaults(c)
	}
}

func (ch Chain) RegisterTestRunnerDefaults(c *Container) {
	for _, p := range ch {
		p.RegisterTestRunnerDefaults(c)
	}
}
