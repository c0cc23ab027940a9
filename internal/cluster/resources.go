package cluster

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/querydesk/querydesk/internal/query"
)

type ResourceKind string

const (
	ResourcePods        ResourceKind = "pods"
	ResourceNodes       ResourceKind = "nodes"
	ResourceDeployments ResourceKind = "deployments"
	ResourceServices    ResourceKind = "services"
)

const SupportedGrammar = "SELECT * FROM PODS|NODES|DEPLOYMENTS|SERVICES"

var resourceStatement = regexp.MustCompile(`(?i)^select\s+\*\s+from\s+(pods|nodes|deployments|services)`)

// lister fetches every object of one kind and projects it into rows. The
// projection column order is fixed per kind.
type lister func(ctx context.Context, client kubernetes.Interface, namespace string) ([]query.Object, error)

var resourceListers = map[ResourceKind]lister{
	ResourcePods:        listPods,
	ResourceNodes:       listNodes,
	ResourceDeployments: listDeployments,
	ResourceServices:    listServices,
}

// Translator answers the fixed set of SELECT * FROM <kind> statements with
// list calls against the cluster API.
type Translator struct {
	Client    kubernetes.Interface
	Namespace string
}

func NewTranslator(client kubernetes.Interface, namespace string) *Translator {
	return &Translator{Client: client, Namespace: namespace}
}

// ParseResourceStatement maps a statement to its resource kind. Anything
// after the kind is ignored.
func ParseResourceStatement(statement string) (ResourceKind, bool) {
	match := resourceStatement.FindStringSubmatch(strings.TrimSpace(statement))
	if match == nil {
		return "", false
	}
	return ResourceKind(strings.ToLower(match[1])), true
}

func (t *Translator) Translate(ctx context.Context, statement string) (any, error) {
	kind, ok := ParseResourceStatement(statement)
	if !ok {
		return nil, query.NewError(query.KindUnsupportedQuery,
			fmt.Sprintf("Unsupported query. Supported queries: %s", SupportedGrammar))
	}
	if t.Client == nil {
		return nil, query.NewError(query.KindBackendConnectionFailure, "cluster API client is not configured")
	}
	objects, err := resourceListers[kind](ctx, t.Client, t.Namespace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, query.WrapError(query.KindBackendExecutionFailure, err.Error(), err)
	}
	return objects, nil
}

func listPods(ctx context.Context, client kubernetes.Interface, namespace string) ([]query.Object, error) {
	list, err := client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	objects := make([]query.Object, 0, len(list.Items))
	for i := range list.Items {
		objects = append(objects, podRow(&list.Items[i]))
	}
	return objects, nil
}

func podRow(pod *corev1.Pod) query.Object {
	var restarts int32
	if len(pod.Status.ContainerStatuses) > 0 {
		restarts = pod.Status.ContainerStatuses[0].RestartCount
	}
	return query.Object{
		{Key: "name", Value: pod.Name},
		{Key: "namespace", Value: pod.Namespace},
		{Key: "status", Value: string(pod.Status.Phase)},
		{Key: "created", Value: formatCreated(pod.CreationTimestamp)},
		{Key: "restarts", Value: restarts},
	}
}

func listNodes(ctx context.Context, client kubernetes.Interface, _ string) ([]query.Object, error) {
	list, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	objects := make([]query.Object, 0, len(list.Items))
	for i := range list.Items {
		objects = append(objects, nodeRow(&list.Items[i]))
	}
	return objects, nil
}

func nodeRow(node *corev1.Node) query.Object {
	return query.Object{
		{Key: "name", Value: node.Name},
		{Key: "status", Value: nodeReadyStatus(node)},
		{Key: "version", Value: node.Status.NodeInfo.KubeletVersion},
		{Key: "os", Value: node.Status.NodeInfo.OSImage},
		{Key: "arch", Value: node.Status.NodeInfo.Architecture},
		{Key: "created", Value: formatCreated(node.CreationTimestamp)},
	}
}

func nodeReadyStatus(node *corev1.Node) string {
	for _, condition := range node.Status.Conditions {
		if condition.Type == corev1.NodeReady {
			return string(condition.Status)
		}
	}
	return "Unknown"
}

func listDeployments(ctx context.Context, client kubernetes.Interface, namespace string) ([]query.Object, error) {
	list, err := client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	objects := make([]query.Object, 0, len(list.Items))
	for i := range list.Items {
		objects = append(objects, deploymentRow(&list.Items[i]))
	}
	return objects, nil
}

func deploymentRow(deployment *appsv1.Deployment) query.Object {
	var replicas int32
	if deployment.Spec.Replicas != nil {
		replicas = *deployment.Spec.Replicas
	}
	return query.Object{
		{Key: "name", Value: deployment.Name},
		{Key: "namespace", Value: deployment.Namespace},
		{Key: "replicas", Value: replicas},
		{Key: "ready", Value: deployment.Status.ReadyReplicas},
		{Key: "available", Value: deployment.Status.AvailableReplicas},
		{Key: "created", Value: formatCreated(deployment.CreationTimestamp)},
	}
}

func listServices(ctx context.Context, client kubernetes.Interface, namespace string) ([]query.Object, error) {
	list, err := client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	objects := make([]query.Object, 0, len(list.Items))
	for i := range list.Items {
		objects = append(objects, serviceRow(&list.Items[i]))
	}
	return objects, nil
}

func serviceRow(service *corev1.Service) query.Object {
	return query.Object{
		{Key: "name", Value: service.Name},
		{Key: "namespace", Value: service.Namespace},
		{Key: "type", Value: string(service.Spec.Type)},
		{Key: "clusterIP", Value: service.Spec.ClusterIP},
		{Key: "ports", Value: formatPorts(service.Spec.Ports)},
	}
}

func formatPorts(ports []corev1.ServicePort) string {
	if len(ports) == 0 {
		return "N/A"
	}
	parts := make([]string, 0, len(ports))
	for _, port := range ports {
		parts = append(parts, fmt.Sprintf("%d:%s/%s", port.Port, port.TargetPort.String(), port.Protocol))
	}
	return strings.Join(parts, ", ")
}

func formatCreated(created metav1.Time) string {
	if created.IsZero() {
		return ""
	}
	return created.UTC().Format(time.RFC3339)
}
