package cluster

import (
	"errors"
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type Config struct {
	Kubeconfig  string
	Context     string
	InCluster   bool
	Namespace   string
	KubectlPath string
}

// RESTConfig resolves the API server configuration. In-cluster credentials
// win when requested; otherwise the standard kubeconfig loading rules apply
// with Kubeconfig and Context as overrides.
func RESTConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("load in-cluster config: %w", err)
		}
		return restCfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		if clientcmd.IsEmptyConfig(err) {
			return nil, errors.New("no kubeconfig found; set QUERYDESK_CLUSTER_KUBECONFIG or QUERYDESK_CLUSTER_IN_CLUSTER")
		}
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	return restCfg, nil
}

func NewClientset(cfg Config) (*kubernetes.Clientset, error) {
	restCfg, err := RESTConfig(cfg)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}
