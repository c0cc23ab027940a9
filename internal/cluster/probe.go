package cluster

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/querydesk/querydesk/internal/query"
)

type ProbeNode struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ProbeResult struct {
	NodeCount int         `json:"nodeCount"`
	Nodes     []ProbeNode `json:"nodes"`
}

// Probe lists nodes as a connectivity check.
func Probe(ctx context.Context, client kubernetes.Interface) (ProbeResult, error) {
	if client == nil {
		return ProbeResult{}, query.NewError(query.KindBackendConnectionFailure, "cluster API client is not configured")
	}
	list, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return ProbeResult{}, query.WrapError(query.KindBackendConnectionFailure, fmt.Sprintf("failed to reach cluster API: %v", err), err)
	}

	result := ProbeResult{NodeCount: len(list.Items), Nodes: make([]ProbeNode, 0, len(list.Items))}
	for i := range list.Items {
		node := &list.Items[i]
		result.Nodes = append(result.Nodes, ProbeNode{
			Name:    node.Name,
			Status:  nodeReadyStatus(node),
			Version: node.Status.NodeInfo.KubeletVersion,
		})
	}
	return result, nil
}
