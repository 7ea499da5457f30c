package cloud

import (
	"testing"
)

// stubConnection fails the test on every call that has no hook set.
type stubConnection struct {
	t *testing.T

	listNodes    func() ([]*Node, error)
	listImages   func() ([]*NodeImage, error)
	listVolumes  func() ([]*StorageVolume, error)
	createNode   func(CreateOptions) (*Node, error)
	deployNode   func(DeployOptions) (*Node, error)
	deployToNode func(*Node, DeployOptions) error
	createVolume func(VolumeOptions) (*StorageVolume, error)

	regions []string
	calls   []string
}

var _ OpenStackConnection = &stubConnection{}

func newStub(t *testing.T) *stubConnection {
	return &stubConnection{t: t}
}

func (s *stubConnection) unexpected(name string) {
	s.t.Helper()
	s.calls = append(s.calls, name)
	s.t.Errorf("unexpected call to %s", name)
}

func (s *stubConnection) ForceServiceRegion(region string) {
	s.regions = append(s.regions, "force:"+region)
}

func (s *stubConnection) SetServiceRegion(region string) {
	s.regions = append(s.regions, "set:"+region)
}

func (s *stubConnection) ListNodes() ([]*Node, error) {
	if s.listNodes == nil {
		s.unexpected("ListNodes")
		return nil, nil
	}
	s.calls = append(s.calls, "ListNodes")
	return s.listNodes()
}

func (s *stubConnection) ListImages() ([]*NodeImage, error) {
	if s.listImages == nil {
		s.unexpected("ListImages")
		return nil, nil
	}
	s.calls = append(s.calls, "ListImages")
	return s.listImages()
}

func (s *stubConnection) ListSizes() ([]*NodeSize, error) {
	s.unexpected("ListSizes")
	return nil, nil
}

func (s *stubConnection) ListLocations() ([]*NodeLocation, error) {
	s.unexpected("ListLocations")
	return nil, nil
}

func (s *stubConnection) CreateNode(opts CreateOptions) (*Node, error) {
	if s.createNode == nil {
		s.unexpected("CreateNode")
		return nil, nil
	}
	s.calls = append(s.calls, "CreateNode")
	return s.createNode(opts)
}

func (s *stubConnection) DeployNode(opts DeployOptions) (*Node, error) {
	if s.deployNode == nil {
		s.unexpected("DeployNode")
		return nil, nil
	}
	s.calls = append(s.calls, "DeployNode")
	return s.deployNode(opts)
}

func (s *stubConnection) ExDeployToNode(node *Node, opts DeployOptions) error {
	if s.deployToNode == nil {
		s.unexpected("ExDeployToNode")
		return nil
	}
	s.calls = append(s.calls, "ExDeployToNode")
	return s.deployToNode(node, opts)
}

func (s *stubConnection) RebootNode(*Node) (bool, error) {
	s.unexpected("RebootNode")
	return false, nil
}

func (s *stubConnection) DestroyNode(*Node) (bool, error) {
	s.unexpected("DestroyNode")
	return false, nil
}

func (s *stubConnection) ListVolumes() ([]*StorageVolume, error) {
	if s.listVolumes == nil {
		s.unexpected("ListVolumes")
		return nil, nil
	}
	s.calls = append(s.calls, "ListVolumes")
	return s.listVolumes()
}

func (s *stubConnection) CreateVolume(opts VolumeOptions) (*StorageVolume, error) {
	if s.createVolume == nil {
		s.unexpected("CreateVolume")
		return nil, nil
	}
	s.calls = append(s.calls, "CreateVolume")
	return s.createVolume(opts)
}

func (s *stubConnection) DestroyVolume(*StorageVolume) (bool, error) {
	s.unexpected("DestroyVolume")
	return false, nil
}

func (s *stubConnection) AttachVolume(*Node, *StorageVolume, string) (bool, error) {
	s.unexpected("AttachVolume")
	return false, nil
}

func (s *stubConnection) DetachVolume(*StorageVolume) (bool, error) {
	s.unexpected("DetachVolume")
	return false, nil
}

func (s *stubConnection) ExStartNode(*Node) (bool, error) {
	s.unexpected("ExStartNode")
	return false, nil
}

func (s *stubConnection) ExStopNode(*Node) (bool, error) {
	s.unexpected("ExStopNode")
	return false, nil
}

func (s *stubConnection) ExSuspendNode(*Node) (bool, error) {
	s.unexpected("ExSuspendNode")
	return false, nil
}

func (s *stubConnection) ExResumeNode(*Node) (bool, error) {
	s.unexpected("ExResumeNode")
	return false, nil
}

func (s *stubConnection) ExResize(*Node, *NodeSize) (bool, error) {
	s.unexpected("ExResize")
	return false, nil
}

func (s *stubConnection) ExConfirmResize(*Node) (bool, error) {
	s.unexpected("ExConfirmResize")
	return false, nil
}

func (s *stubConnection) ExRevertResize(*Node) (bool, error) {
	s.unexpected("ExRevertResize")
	return false, nil
}

func (s *stubConnection) ExAddFloatingIP(*Node) (string, error) {
	s.unexpected("ExAddFloatingIP")
	return "", nil
}

func (s *stubConnection) ExCleanFloatingIPs() (bool, error) {
	s.unexpected("ExCleanFloatingIPs")
	return false, nil
}

func (s *stubConnection) ExListAllInstances() ([]*Node, error) {
	s.unexpected("ExListAllInstances")
	return nil, nil
}

func (s *stubConnection) ExHypervisorStatistics() (HypervisorStatistics, error) {
	s.unexpected("ExHypervisorStatistics")
	return HypervisorStatistics{}, nil
}

func (s *stubConnection) ExGetImageMetadata(image *NodeImage) (map[string]string, error) {
	s.unexpected("ExGetImageMetadata")
	return nil, nil
}

func (s *stubConnection) ExSetImageMetadata(image *NodeImage, metadata map[string]string) error {
	s.unexpected("ExSetImageMetadata")
	return nil
}

func (s *stubConnection) ExDeleteImageMetadata(image *NodeImage, key string) error {
	s.unexpected("ExDeleteImageMetadata")
	return nil
}

func openStackProvider(conn OpenStackConnection) *OpenStackProvider {
	return &OpenStackProvider{
		Dialer: func(*OpenStackIdentity) (OpenStackConnection, error) {
			return conn, nil
		},
	}
}

func awsProvider(conn Connection) *AWSProvider {
	return &AWSProvider{
		Dialer: func(*AWSIdentity) (Connection, error) {
			return conn, nil
		},
	}
}

func eucaProvider(conn Connection) *EucaProvider {
	return &EucaProvider{
		Dialer: func(*EucaIdentity) (Connection, error) {
			return conn, nil
		},
	}
}
